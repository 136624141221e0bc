package core

// StepStatus is the lifecycle state of a ProgressStep.
type StepStatus string

const (
	// StepRunning marks a tool activity still in progress.
	StepRunning StepStatus = "running"
	// StepCompleted marks a finished tool activity.
	StepCompleted StepStatus = "completed"
	// StepError marks a failed tool activity.
	StepError StepStatus = "error"
)

// ParseStepStatus maps a wire status to a StepStatus. Missing or unknown
// values are treated as running.
func ParseStepStatus(s string) StepStatus {
	switch StepStatus(s) {
	case StepCompleted:
		return StepCompleted
	case StepError:
		return StepError
	default:
		return StepRunning
	}
}

// StepKey is the composite identity of a ProgressStep.
type StepKey struct {
	Tool string
	File string
}

// ProgressStep is a tool/file scoped status notification distinct from
// free-form content. Absent optional fields are empty strings.
type ProgressStep struct {
	Tool    string     `json:"tool,omitempty"`
	File    string     `json:"file,omitempty"`
	Action  string     `json:"action,omitempty"`
	Status  StepStatus `json:"status"`
	Content string     `json:"content"`
}

// Key returns the (tool, file) identity of the step.
func (s ProgressStep) Key() StepKey { return StepKey{Tool: s.Tool, File: s.File} }
