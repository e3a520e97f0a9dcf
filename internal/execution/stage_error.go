package execution

import "fmt"

// stageError 记录失败发生在循环的哪一步、第几轮。
type stageError struct {
	Stage string
	Turn  int
	Err   error
}

func (e stageError) Error() string {
	switch {
	case e.Stage == "":
		return e.Err.Error()
	case e.Turn > 0:
		return fmt.Sprintf("turn %d %s: %v", e.Turn, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e stageError) Unwrap() error { return e.Err }
