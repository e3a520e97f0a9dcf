package shell

import (
	"strconv"
	"strings"
)

// descendants walks the process tree below pid breadth-first.
func descendants(pid int) []int {
	var out []int
	queue := []int{pid}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		kids := childrenOf(p)
		out = append(out, kids...)
		queue = append(queue, kids...)
	}
	return out
}

func parsePids(s string) []int {
	var pids []int
	for _, f := range strings.Fields(s) {
		if pid, err := strconv.Atoi(f); err == nil && pid > 0 {
			pids = append(pids, pid)
		}
	}
	return pids
}
