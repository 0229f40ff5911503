package onboard

import "time"

// Observer receives lifecycle callbacks for each phase of a run.
// Callbacks are made from the run's goroutine and must not block.
type Observer interface {
	PhaseStarted(phase string)
	PhaseCompleted(phase string, duration time.Duration, err error)
	RunCompleted(summary Summary)
}

// PhaseResult is the outcome of one phase.
type PhaseResult struct {
	Phase    string        `json:"phase"`
	Status   string        `json:"status"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Summary describes a finished run. It is sent to post hooks.
type Summary struct {
	RunID    string        `json:"runId"`
	Version  string        `json:"version,omitempty"`
	Status   string        `json:"status"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Phases   []PhaseResult `json:"phases"`
	Error    string        `json:"error,omitempty"`
}

const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailure = "failure"
)

type observers []Observer

func (o observers) PhaseStarted(phase string) {
	for _, obs := range o {
		obs.PhaseStarted(phase)
	}
}

func (o observers) PhaseCompleted(phase string, duration time.Duration, err error) {
	for _, obs := range o {
		obs.PhaseCompleted(phase, duration, err)
	}
}

func (o observers) RunCompleted(summary Summary) {
	for _, obs := range o {
		obs.RunCompleted(summary)
	}
}
