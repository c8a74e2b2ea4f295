package sel4

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHarness(t *testing.T, factory *stubFactory, maxAttempts int) *Harness {
	t.Helper()
	if factory.wireURL == "" {
		factory.wireURL = newFakeDriver(t).URL
	}
	reg := NewRegistry(factory)
	ctrl := NewController(reg, maxAttempts)
	h := NewHarness(reg, ctrl, testSpec(), &Options{})
	h.sleep = func(time.Duration) {} // no waiting in tests
	return h
}

func TestHarnessPassingTest(t *testing.T) {
	factory := &stubFactory{}
	h := newTestHarness(t, factory, 2)

	var sawSession bool
	outcome := h.Run(context.Background(), Item{
		ID:      "t1",
		Markers: Markers{TestCase: "ZEPH-1"},
		Fn: func(tc *TestContext) error {
			sawSession = tc.Session() != nil
			tc.Observe("page title matches", true)
			return nil
		},
	})

	assert.True(t, sawSession, "test body must receive a bound session")
	assert.Equal(t, StatusPassed, outcome.Status)
	assert.Equal(t, "ZEPH-1", outcome.Markers.TestCase)
	require.Len(t, outcome.Observations, 1)
	assert.True(t, outcome.Observations[0].Passed)

	// The session must have been released on the way out.
	assert.Nil(t, h.registry.Active("t1"))
	require.Len(t, factory.services, 1)
	assert.Equal(t, 1, factory.services[0].stopCount())
}

func TestHarnessFailingTest(t *testing.T) {
	h := newTestHarness(t, &stubFactory{}, 2)

	outcome := h.Run(context.Background(), Item{
		ID: "t1",
		Fn: func(tc *TestContext) error {
			return errors.New("element not found")
		},
	})

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Contains(t, outcome.Reason, "element not found")
	assert.Nil(t, h.registry.Active("t1"))
}

func TestHarnessPanicStillReleases(t *testing.T) {
	factory := &stubFactory{}
	h := newTestHarness(t, factory, 2)

	outcome := h.Run(context.Background(), Item{
		ID: "t1",
		Fn: func(tc *TestContext) error {
			panic("boom")
		},
	})

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Contains(t, outcome.Reason, "boom")
	assert.Nil(t, h.registry.Active("t1"))
	require.Len(t, factory.services, 1)
	assert.Equal(t, 1, factory.services[0].stopCount())
}

func TestHarnessFailedObservation(t *testing.T) {
	h := newTestHarness(t, &stubFactory{}, 2)

	outcome := h.Run(context.Background(), Item{
		ID: "t1",
		Fn: func(tc *TestContext) error {
			tc.Observe("status code is 200", true)
			tc.Observe("banner is visible", false)
			return nil
		},
	})

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Contains(t, outcome.Reason, "banner is visible")
	require.Len(t, outcome.Observations, 2)
}

func TestHarnessXFail(t *testing.T) {
	h := newTestHarness(t, &stubFactory{}, 2)

	outcome := h.Run(context.Background(), Item{
		ID:      "t1",
		Markers: Markers{XFail: true},
		Fn: func(tc *TestContext) error {
			return errors.New("known breakage")
		},
	})
	assert.Equal(t, StatusXFailed, outcome.Status)

	outcome = h.Run(context.Background(), Item{
		ID:      "t2",
		Markers: Markers{XFail: true},
		Fn: func(tc *TestContext) error {
			return nil
		},
	})
	assert.Equal(t, StatusXPassed, outcome.Status)
}

func TestHarnessMarkersAlwaysReported(t *testing.T) {
	h := newTestHarness(t, &stubFactory{}, 2)
	markers := Markers{TestCase: "ZEPH-123", Issues: []string{"BUG-1", "BUG-2"}}

	var reported []Outcome
	h.AddReporter(ReporterFunc(func(o Outcome) error {
		reported = append(reported, o)
		return nil
	}))

	h.Run(context.Background(), Item{ID: "pass", Markers: markers, Fn: func(tc *TestContext) error { return nil }})
	h.Run(context.Background(), Item{ID: "fail", Markers: markers, Fn: func(tc *TestContext) error { return errors.New("nope") }})

	require.Len(t, reported, 2)
	for _, o := range reported {
		assert.Equal(t, "ZEPH-123", o.Markers.TestCase)
		assert.Equal(t, []string{"BUG-1", "BUG-2"}, o.Markers.Issues)
	}
}

func TestHarnessRetryOnSessionCrash(t *testing.T) {
	launchErr := &LaunchError{Browser: "chromium", Cause: errors.New("port in use")}
	factory := &stubFactory{}
	h := newTestHarness(t, factory, 2)

	// First strike moves the configuration to suspect.
	h.Run(context.Background(), Item{
		ID: "warmup",
		Fn: func(tc *TestContext) error { return nil },
	})
	factory.failures = []error{launchErr}
	h.Run(context.Background(), Item{
		ID: "strike",
		Fn: func(tc *TestContext) error { return nil },
	})

	// The next crash quarantines and earns a retry on a fresh session.
	factory.failures = []error{launchErr}
	outcome := h.Run(context.Background(), Item{
		ID: "retried",
		Fn: func(tc *TestContext) error { return nil },
	})

	assert.Equal(t, StatusPassed, outcome.Status)
	assert.True(t, outcome.Retried)
	assert.Equal(t, 1, h.recovery.Budget(testSpec()).Used)
}

func TestHarnessBudgetExhaustionReportsError(t *testing.T) {
	launchErr := &LaunchError{Browser: "chromium", Cause: errors.New("no display")}
	factory := &stubFactory{
		failures: []error{launchErr, launchErr, launchErr, launchErr},
	}
	h := newTestHarness(t, factory, 1)

	first := h.Run(context.Background(), Item{ID: "t1", Fn: func(tc *TestContext) error { return nil }})
	assert.Equal(t, StatusError, first.Status)

	// Second launch failure quarantines; the single budget unit buys one
	// retry, which also fails to launch.
	second := h.Run(context.Background(), Item{ID: "t2", Fn: func(tc *TestContext) error { return nil }})
	assert.Equal(t, StatusError, second.Status)

	// The configuration is now barred; later tests error immediately.
	third := h.Run(context.Background(), Item{ID: "t3", Fn: func(tc *TestContext) error { return nil }})
	assert.Equal(t, StatusError, third.Status)
	assert.Equal(t, 0, factory.createdCount(), "no session may be created once barred")
}

func TestHarnessRepeatedCrashesBarConfiguration(t *testing.T) {
	launchErr := &LaunchError{Browser: "chromium", Cause: errors.New("no display")}
	factory := &stubFactory{}
	for i := 0; i < 8; i++ {
		factory.failures = append(factory.failures, launchErr)
	}
	h := newTestHarness(t, factory, 2)

	// The launch never recovers: suspicion on the first test, then one
	// granted retry per budget unit, then the configuration is barred and
	// later tests error without launching anything.
	for i := 1; i <= 6; i++ {
		outcome := h.Run(context.Background(), Item{
			ID: fmt.Sprintf("t%d", i),
			Fn: func(tc *TestContext) error { return nil },
		})
		assert.Equal(t, StatusError, outcome.Status, "test %d", i)
	}

	budget := h.recovery.Budget(testSpec())
	assert.Equal(t, budget.Max, budget.Used, "every budget unit must be spent")
	assert.Equal(t, 0, budget.Remaining())
	assert.Equal(t, 0, factory.createdCount(), "no session may ever launch")

	_, err := h.registry.Acquire(context.Background(), "after", testSpec(), &Options{})
	assert.ErrorIs(t, err, ErrBudgetExhausted)
}

func TestHarnessCollectWarnsOnMalformedMarkers(t *testing.T) {
	h := newTestHarness(t, &stubFactory{}, 2)

	warnings := h.Collect(
		Item{ID: "ok", Markers: Markers{TestCase: "ZEPH-1", Issues: []string{"BUG-9"}}},
		Item{ID: "bad", Markers: Markers{TestCase: "  ", Issues: []string{"has space"}}},
	)
	assert.Len(t, warnings, 2)
}

func TestHarnessSummaryCounters(t *testing.T) {
	h := newTestHarness(t, &stubFactory{}, 2)

	items := []Item{
		{ID: "p1", Fn: func(tc *TestContext) error { return nil }},
		{ID: "p2", Fn: func(tc *TestContext) error { return nil }},
		{ID: "f1", Fn: func(tc *TestContext) error { return errors.New("broken") }},
		{ID: "x1", Markers: Markers{XFail: true}, Fn: func(tc *TestContext) error { return errors.New("expected") }},
	}
	summary := h.RunAll(context.Background(), items)

	assert.Equal(t, 2, summary.Passed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.XFailed)
	assert.Equal(t, 4, summary.Total())
}
