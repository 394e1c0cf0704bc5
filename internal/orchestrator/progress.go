package orchestrator

import "context"

// Stage names a step of folder processing, as shown to the operator.
type Stage string

const (
	StageStart     Stage = "Starting"
	StageExtract   Stage = "Extracting"
	StageSummarize Stage = "Summarizing"
	StageBundle    Stage = "Bundling"
	StageComplete  Stage = "Complete"
	StageSkipped   Stage = "Skipped"
	StageError     Stage = "Error"
)

// Progress is emitted on Runner.Progress as a run advances.
//
// For StageExtract, Done/Total count archives within the folder. For the
// final stage of a folder (Complete, Skipped, Error) they count folders in
// the window.
type Progress struct {
	Folder  string
	RelPath string
	Stage   Stage
	Archive string
	Done    int
	Total   int
	Err     error
}

// Final reports whether p closes out a folder.
func (p Progress) Final() bool {
	return p.Stage == StageComplete || p.Stage == StageSkipped || p.Stage == StageError
}

func finalStage(fr FolderResult) Stage {
	switch {
	case fr.Err != nil:
		return StageError
	case fr.Skipped:
		return StageSkipped
	default:
		return StageComplete
	}
}

func (r *Runner) sendProgress(ctx context.Context, p Progress) {
	if r.Progress == nil {
		return
	}
	select {
	case r.Progress <- p:
	case <-ctx.Done():
	}
}
