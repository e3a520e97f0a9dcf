//go:build !windows

package shell

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

// 会话 shell 独占一个进程组，终端的 SIGINT 不会直接打到它。
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func childrenOf(pid int) []int {
	if data, err := os.ReadFile(fmt.Sprintf("/proc/%d/task/%d/children", pid, pid)); err == nil {
		return parsePids(string(data))
	}
	out, err := exec.Command("pgrep", "-P", strconv.Itoa(pid)).Output()
	if err != nil {
		return nil
	}
	return parsePids(string(out))
}

func terminate(pids []int) {
	for _, pid := range pids {
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
			log.WithField("pid", pid).Debugf("SIGTERM failed: %v", err)
		}
	}
}
