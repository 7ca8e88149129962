package pipeline

import "time"

// State is the lifecycle position of a Job.
type State string

const (
	StateValidating  State = "validating"
	StateBackedUp    State = "backed_up"
	StateQuarantined State = "quarantined"
	StateDispatched  State = "dispatched"
	StateArchived    State = "archived"
	StateAborted     State = "aborted"
)

// Stage names used in logs and wrapped errors.
const (
	stageValidate   = "validate"
	stageBackup     = "backup"
	stageQuarantine = "quarantine"
	stageDispatch   = "dispatch"
	stageArchive    = "archive"
)

// Job is the transient record of one Process call.
type Job struct {
	ID         string
	SourcePath string
	Root       string
	Extension  string
	State      State

	BackupPath     string
	QuarantinePath string
	ArchivePath    string

	// Handler is the handler id used, empty when the type is unsupported.
	Handler     string
	Unsupported bool
	// Summary is a short handler-provided description of the content.
	Summary string

	StartedAt  time.Time
	FinishedAt time.Time
	// LastState is the last state reached before an abort.
	LastState State
	Err       error
}

// Name returns the base filename of the source.
func (j *Job) Name() string {
	return baseName(j.SourcePath)
}

// Duration returns how long the job ran.
func (j *Job) Duration() time.Duration {
	if j.FinishedAt.IsZero() || j.StartedAt.IsZero() {
		return 0
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

// Succeeded reports whether the job reached the archive.
func (j *Job) Succeeded() bool {
	return j.State == StateArchived
}

func (j *Job) advance(state State) {
	j.State = state
	j.LastState = state
}
