package types

// RunState is the lifecycle state of one mass indexing run.
type RunState string

const (
	RunInit       RunState = "INIT"
	RunPreparing  RunState = "PREPARING"
	RunIndexing   RunState = "INDEXING"
	RunFinalizing RunState = "FINALIZING"
	RunCompleted  RunState = "COMPLETED"
	RunFailed     RunState = "FAILED"
	RunCancelled  RunState = "CANCELLED"
)

// IsTerminal reports whether no further transition can happen.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// StageState is the lifecycle state of a producer or consumer stage.
type StageState string

const (
	StageCreated   StageState = "CREATED"
	StageRunning   StageState = "RUNNING"
	StageCompleted StageState = "COMPLETED"
	StageFailed    StageState = "FAILED"
	StageCancelled StageState = "CANCELLED"
	StageStopped   StageState = "STOPPED"
)
