package sel4

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sel4go/sel4/provision"
)

// TestFunc is a test body. It receives the context holding its session and
// reports failure by returning a non-nil error or panicking.
type TestFunc func(tc *TestContext) error

// Item is one collected test: an identifier, its metadata markers and the
// body to execute.
type Item struct {
	ID      string
	Markers Markers
	Fn      TestFunc
}

type phase int

const (
	phaseSetup phase = iota
	phaseBound
	phaseExecuting
	phaseTeardown
)

// TestContext is handed to a test body for the duration of one execution.
// The session it exposes is borrowed from the registry, never owned.
type TestContext struct {
	id      string
	markers Markers

	mu           sync.Mutex
	phase        phase
	session      *Session
	observations []Observation
}

// ID returns the test identifier.
func (tc *TestContext) ID() string { return tc.id }

// Markers returns the metadata attached at collection time.
func (tc *TestContext) Markers() Markers { return tc.markers }

// Session returns the session bound to this test.
func (tc *TestContext) Session() *Session {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.session
}

// Observe records one assertion result. Passing assertions are recorded
// too; they end up in the reported outcome payload.
func (tc *TestContext) Observe(description string, passed bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.observations = append(tc.observations, Observation{
		Description: description,
		Passed:      passed,
		Time:        time.Now(),
	})
}

func (tc *TestContext) failedObservation() (Observation, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for _, obs := range tc.observations {
		if !obs.Passed {
			return obs, true
		}
	}
	return Observation{}, false
}

func (tc *TestContext) bind(sess *Session) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.session = sess
	tc.phase = phaseBound
}

func (tc *TestContext) enter(p phase) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.phase = p
}

// Harness drives the per-test lifecycle: acquire a session, run the body,
// release on every exit path, classify the result and report it. A failed
// launch or a crashed session goes through the recovery controller, which
// may grant the test one fresh attempt per budget unit.
type Harness struct {
	registry *Registry
	recovery *Controller
	spec     *provision.DriverSpec
	opts     *Options
	logger   logrus.FieldLogger

	sleep func(time.Duration)

	mu        sync.Mutex
	reporters []Reporter
	summary   Summary
}

// NewHarness returns a Harness running every test against spec with opts.
func NewHarness(registry *Registry, recovery *Controller, spec *provision.DriverSpec, opts *Options) *Harness {
	return &Harness{
		registry: registry,
		recovery: recovery,
		spec:     spec,
		opts:     opts,
		logger:   logrus.WithField("component", "harness"),
		sleep:    time.Sleep,
	}
}

// AddReporter registers a reporter for finished outcomes.
func (h *Harness) AddReporter(r Reporter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reporters = append(h.reporters, r)
}

// Summary returns the run counters accumulated so far.
func (h *Harness) Summary() *Summary {
	return &h.summary
}

// Collect validates items' markers. Malformed marker values produce a
// warning per value; collection never fails because of them.
func (h *Harness) Collect(items ...Item) []string {
	var warnings []string
	for _, item := range items {
		for _, w := range item.Markers.Validate() {
			msg := fmt.Sprintf("%s: %s", item.ID, w)
			h.logger.Warn(msg)
			warnings = append(warnings, msg)
		}
	}
	return warnings
}

// Run executes one test end to end and reports its outcome. Session-level
// failures consult the recovery controller: the test is re-run at most once
// on a fresh session when the budget allows it.
func (h *Harness) Run(ctx context.Context, item Item) Outcome {
	start := time.Now()

	status, reason, observations, sess := h.attempt(ctx, item)
	retried := false

	if status == attemptCrashed {
		var action Action
		if sess != nil {
			action = h.recovery.OnFailure(sess, reason)
		} else {
			// Launch never produced a session; count the failure
			// against the configuration via a placeholder.
			action = h.launchFailure(reason)
		}
		switch action {
		case ActionRetry:
			delay, err := h.recovery.BeginRetry(h.spec)
			if err != nil {
				status = attemptErrored
				break
			}
			h.sleep(delay)
			retried = true
			status, reason, observations, sess = h.attempt(ctx, item)
			if status == attemptCrashed {
				if sess != nil {
					h.recovery.OnFailure(sess, reason)
				} else {
					h.launchFailure(reason)
				}
				status = attemptErrored
			}
		case ActionExhausted:
			status = attemptErrored
		default:
			status = attemptErrored
		}
	}

	if status == attemptPassed {
		h.recovery.OnSuccess(h.spec)
	}

	outcome := Outcome{
		TestID:       item.ID,
		Markers:      item.Markers,
		Observations: observations,
		Retried:      retried,
		Duration:     time.Since(start),
	}
	if reason != nil {
		outcome.Reason = reason.Error()
	}
	outcome.Status = verdict(status, item.Markers.XFail)

	h.report(outcome)
	return outcome
}

// RunAll runs items sequentially and returns the accumulated counters.
func (h *Harness) RunAll(ctx context.Context, items []Item) *Summary {
	h.Collect(items...)
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		h.Run(ctx, item)
	}
	return &h.summary
}

type attemptStatus int

const (
	attemptPassed attemptStatus = iota
	attemptFailed
	attemptErrored
	attemptCrashed // session-level failure, retry-eligible
)

func (h *Harness) attempt(ctx context.Context, item Item) (attemptStatus, error, []Observation, *Session) {
	tc := &TestContext{id: item.ID, markers: item.Markers, phase: phaseSetup}

	sess, err := h.registry.Acquire(ctx, item.ID, h.spec, h.opts)
	if err != nil {
		if retriable(err) {
			return attemptCrashed, err, nil, nil
		}
		return attemptErrored, err, nil, nil
	}
	tc.bind(sess)

	defer func() {
		tc.enter(phaseTeardown)
		if relErr := h.registry.Release(item.ID); relErr != nil {
			h.logger.WithField("test", item.ID).WithError(relErr).Debug("release")
		}
	}()

	tc.enter(phaseExecuting)
	err = runBody(tc, item.Fn)

	if err != nil {
		if retriable(err) || !sess.Alive(ctx) {
			return attemptCrashed, err, tc.observations, sess
		}
		return attemptFailed, err, tc.observations, sess
	}
	if obs, failed := tc.failedObservation(); failed {
		return attemptFailed, fmt.Errorf("assertion failed: %s", obs.Description), tc.observations, sess
	}
	return attemptPassed, nil, tc.observations, sess
}

// runBody invokes fn, turning a panic into an error so teardown still runs.
func runBody(tc *TestContext, fn TestFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("test panicked: %v", r)
		}
	}()
	return fn(tc)
}

// launchFailure feeds a session-less launch error into the recovery state
// machine by way of a placeholder session carrying the spec.
func (h *Harness) launchFailure(cause error) Action {
	placeholder := &Session{spec: h.spec, state: StateCreated, logger: h.logger}
	return h.recovery.OnFailure(placeholder, cause)
}

// retriable reports whether err is a session-level fault worth a recovery
// attempt rather than an ordinary test failure.
func retriable(err error) bool {
	var launchErr *LaunchError
	var launchTimeout *LaunchTimeout
	switch {
	case errors.As(err, &launchErr),
		errors.As(err, &launchTimeout),
		errors.Is(err, ErrSessionClosed):
		return true
	}
	var wireErr *wireError
	if errors.As(err, &wireErr) {
		switch wireErr.Err {
		case "invalid session id", "session not created", "unknown error":
			return true
		}
	}
	return false
}

func verdict(status attemptStatus, xfail bool) Status {
	switch status {
	case attemptPassed:
		if xfail {
			return StatusXPassed
		}
		return StatusPassed
	case attemptFailed:
		if xfail {
			return StatusXFailed
		}
		return StatusFailed
	default:
		return StatusError
	}
}

func (h *Harness) report(outcome Outcome) {
	h.summary.Record(outcome)
	h.mu.Lock()
	reporters := make([]Reporter, len(h.reporters))
	copy(reporters, h.reporters)
	h.mu.Unlock()
	for _, r := range reporters {
		if err := r.Report(outcome); err != nil {
			h.logger.WithError(err).Warn("reporting outcome failed")
		}
	}
	h.logger.WithFields(logrus.Fields{
		"test":   outcome.TestID,
		"status": outcome.Status,
	}).Info("test finished")
}
