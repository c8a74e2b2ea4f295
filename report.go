package sel4

import (
	"os"
	"runtime"
	"sync"
	"time"
)

// Status is the terminal verdict of one test execution.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusError   Status = "error"
	StatusXFailed Status = "xfailed"
	StatusXPassed Status = "xpassed"
)

// Observation is one assertion recorded during a test body. Passing
// assertions are observable so that reported outcomes can carry
// per-assertion detail, not just the aggregate verdict.
type Observation struct {
	Description string    `json:"description"`
	Passed      bool      `json:"passed"`
	Time        time.Time `json:"time"`
}

// Outcome is the reported result of one test. Marker metadata is always
// attached, whatever the verdict.
type Outcome struct {
	TestID       string        `json:"testId"`
	Status       Status        `json:"status"`
	Markers      Markers       `json:"markers"`
	Observations []Observation `json:"observations,omitempty"`
	Retried      bool          `json:"retried,omitempty"`
	Duration     time.Duration `json:"duration"`
	Reason       string        `json:"reason,omitempty"`
}

// Reporter receives outcomes as tests finish.
type Reporter interface {
	Report(outcome Outcome) error
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(Outcome) error

func (f ReporterFunc) Report(o Outcome) error { return f(o) }

// RunInfo is the environment snapshot taken once at run start and attached
// to run-level reports.
type RunInfo struct {
	StartedAt time.Time `json:"startedAt"`
	Hostname  string    `json:"hostname"`
	OS        string    `json:"os"`
	Arch      string    `json:"arch"`
	GoVersion string    `json:"goVersion"`
	Browser   string    `json:"browser,omitempty"`
}

// NewRunInfo snapshots the current environment.
func NewRunInfo(browser string) RunInfo {
	hostname, _ := os.Hostname()
	return RunInfo{
		StartedAt: time.Now(),
		Hostname:  hostname,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		GoVersion: runtime.Version(),
		Browser:   browser,
	}
}

// Summary accumulates run-wide counters. Safe for concurrent use.
type Summary struct {
	mu      sync.Mutex
	Passed  int
	Failed  int
	Errors  int
	XFailed int
	XPassed int
	Retried int
}

// Record counts one outcome.
func (s *Summary) Record(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch o.Status {
	case StatusPassed:
		s.Passed++
	case StatusFailed:
		s.Failed++
	case StatusError:
		s.Errors++
	case StatusXFailed:
		s.XFailed++
	case StatusXPassed:
		s.XPassed++
	}
	if o.Retried {
		s.Retried++
	}
}

// Total is the number of outcomes recorded.
func (s *Summary) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Passed + s.Failed + s.Errors + s.XFailed + s.XPassed
}
