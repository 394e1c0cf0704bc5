package app

import (
	"fmt"
	"time"

	"github.com/brensch/jsonlpack/internal/orchestrator"
)

// ProgressMsg carries one progress update from the running orchestrator.
type ProgressMsg struct {
	orchestrator.Progress
}

// TaskFinishedMsg signals that the run returned.
type TaskFinishedMsg struct {
	Result    *orchestrator.Result
	Err       error // Fatal run error; per-folder errors are in Result.Err
	StartTime time.Time
	EndTime   time.Time
}

// GeneralErrorMsg signals an error that might not be tied to a specific task.
type GeneralErrorMsg struct {
	Err error
}

func NewTaskFinished(res *orchestrator.Result, start time.Time, err error) TaskFinishedMsg {
	return TaskFinishedMsg{Result: res, Err: err, StartTime: start, EndTime: time.Now()}
}

func NewError(err error) GeneralErrorMsg {
	return GeneralErrorMsg{Err: err}
}

func (e GeneralErrorMsg) Error() string {
	return e.Err.Error()
}

func (p ProgressMsg) String() string {
	return fmt.Sprintf("Progress %s: %s %d/%d", p.RelPath, p.Stage, p.Done, p.Total)
}
func (tf TaskFinishedMsg) String() string {
	return fmt.Sprintf("TaskFinished after %s", tf.EndTime.Sub(tf.StartTime).Round(time.Millisecond))
}
func (ge GeneralErrorMsg) String() string { return fmt.Sprintf("GeneralError: %s", ge.Err) }
