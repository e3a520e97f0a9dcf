//go:build windows

package shell

import (
	"os/exec"
	"strconv"
)

func configureProcAttr(*exec.Cmd) {}

func childrenOf(pid int) []int {
	out, err := exec.Command("wmic", "process", "where", "ParentProcessId="+strconv.Itoa(pid), "get", "ProcessId", "/value").Output()
	if err != nil {
		return nil
	}
	return parsePids(stripWMIKeys(string(out)))
}

func stripWMIKeys(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
			continue
		}
		out = append(out, ' ')
	}
	return string(out)
}

func terminate(pids []int) {
	for _, pid := range pids {
		if err := exec.Command("taskkill", "/F", "/PID", strconv.Itoa(pid)).Run(); err != nil {
			log.WithField("pid", pid).Debugf("taskkill failed: %v", err)
		}
	}
}
