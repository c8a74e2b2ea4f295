package sel4

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T, maxAttempts int) (*Controller, *Registry, *stubFactory) {
	t.Helper()
	factory := &stubFactory{}
	reg := NewRegistry(factory)
	return NewController(reg, maxAttempts), reg, factory
}

func acquireFor(t *testing.T, reg *Registry, testID string) *Session {
	t.Helper()
	sess, err := reg.Acquire(context.Background(), testID, testSpec(), &Options{})
	require.NoError(t, err)
	return sess
}

func TestControllerFirstFailureIsSuspicion(t *testing.T) {
	ctrl, reg, _ := newTestController(t, 2)
	sess := acquireFor(t, reg, "t1")

	action := ctrl.OnFailure(sess, errors.New("driver unresponsive"))
	assert.Equal(t, ActionFail, action)
	assert.NotEqual(t, StateQuarantined, sess.State(), "first failure must not quarantine")
	assert.Equal(t, 0, ctrl.Budget(testSpec()).Used)
}

func TestControllerSecondFailureQuarantines(t *testing.T) {
	ctrl, reg, _ := newTestController(t, 2)

	s1 := acquireFor(t, reg, "t1")
	ctrl.OnFailure(s1, errors.New("first"))
	reg.Release("t1")

	s2 := acquireFor(t, reg, "t2")
	action := ctrl.OnFailure(s2, errors.New("second"))
	assert.Equal(t, ActionRetry, action)
	assert.NotEqual(t, StateActive, s2.State(), "second failure must pull the session")

	delay, err := ctrl.BeginRetry(testSpec())
	require.NoError(t, err)
	assert.Greater(t, delay.Nanoseconds(), int64(0))
	assert.Equal(t, 1, ctrl.Budget(testSpec()).Used)
}

func TestControllerBudgetExhaustion(t *testing.T) {
	ctrl, reg, _ := newTestController(t, 1)

	s1 := acquireFor(t, reg, "t1")
	ctrl.OnFailure(s1, errors.New("first"))
	reg.Release("t1")

	s2 := acquireFor(t, reg, "t2")
	require.Equal(t, ActionRetry, ctrl.OnFailure(s2, errors.New("second")))
	_, err := ctrl.BeginRetry(testSpec())
	require.NoError(t, err)

	// The retry crashes too; the budget is now drained.
	s3 := acquireFor(t, reg, "t3")
	action := ctrl.OnFailure(s3, errors.New("third"))
	assert.Equal(t, ActionExhausted, action)

	// The configuration is barred from further sessions.
	_, err = reg.Acquire(context.Background(), "t4", testSpec(), &Options{})
	assert.ErrorIs(t, err, ErrBudgetExhausted)

	budget := ctrl.Budget(testSpec())
	assert.Equal(t, budget.Max, budget.Used)
	assert.Equal(t, 0, budget.Remaining())
}

func TestControllerSuccessClearsSuspicion(t *testing.T) {
	ctrl, reg, _ := newTestController(t, 2)

	s1 := acquireFor(t, reg, "t1")
	ctrl.OnFailure(s1, errors.New("hiccup"))
	reg.Release("t1")

	ctrl.OnSuccess(testSpec())

	// After a healthy run the next failure is a fresh first strike.
	s2 := acquireFor(t, reg, "t2")
	assert.Equal(t, ActionFail, ctrl.OnFailure(s2, errors.New("later")))
}

func TestControllerConcurrentFailuresSpendNoBudget(t *testing.T) {
	ctrl, reg, _ := newTestController(t, 4)

	s1 := acquireFor(t, reg, "t1")
	ctrl.OnFailure(s1, errors.New("first"))
	reg.Release("t1")

	s2 := acquireFor(t, reg, "t2")
	s3 := acquireFor(t, reg, "t3")

	var wg sync.WaitGroup
	actions := make([]Action, 2)
	for i, sess := range []*Session{s2, s3} {
		wg.Add(1)
		go func(n int, s *Session) {
			defer wg.Done()
			actions[n] = ctrl.OnFailure(s, errors.New("concurrent"))
		}(i, sess)
	}
	wg.Wait()

	for _, a := range actions {
		assert.Equal(t, ActionRetry, a, "budget remains, each failure clears a retry")
	}
	// The forced close may already have finished; either way the sessions
	// are out of circulation.
	assert.NotEqual(t, StateActive, s2.State())
	assert.NotEqual(t, StateActive, s3.State())
	assert.Equal(t, 0, ctrl.Budget(testSpec()).Used, "suspicion alone must not spend budget")

	// The same session reports at most once.
	assert.Equal(t, ActionFail, ctrl.OnFailure(s2, errors.New("again")))
}

func TestControllerRepeatedFailuresExhaustBudget(t *testing.T) {
	ctrl, reg, _ := newTestController(t, 2)

	s0 := acquireFor(t, reg, "t0")
	require.Equal(t, ActionFail, ctrl.OnFailure(s0, errors.New("strike")))
	reg.Release("t0")

	// Each round crashes, is granted a retry, and crashes the retry too.
	// Every granted retry spends exactly one budget unit.
	for i := 1; i <= 2; i++ {
		id := fmt.Sprintf("t%d", i)
		sess := acquireFor(t, reg, id)
		require.Equal(t, ActionRetry, ctrl.OnFailure(sess, errors.New("crash")), "round %d", i)
		_, err := ctrl.BeginRetry(testSpec())
		require.NoError(t, err, "round %d", i)

		retry := acquireFor(t, reg, id)
		action := ctrl.OnFailure(retry, errors.New("crash again"))
		if i < 2 {
			assert.Equal(t, ActionRetry, action, "round %d leaves budget", i)
		} else {
			assert.Equal(t, ActionExhausted, action, "round %d drains the budget", i)
		}
	}

	budget := ctrl.Budget(testSpec())
	assert.Equal(t, budget.Max, budget.Used)
	assert.Equal(t, 0, budget.Remaining())

	_, err := reg.Acquire(context.Background(), "t3", testSpec(), &Options{})
	assert.ErrorIs(t, err, ErrBudgetExhausted)
}

func TestControllerBudgetMonotonic(t *testing.T) {
	ctrl, reg, _ := newTestController(t, 3)

	prev := 0
	for i := 0; i < 5; i++ {
		sess := acquireFor(t, reg, "t")
		ctrl.OnFailure(sess, errors.New("strike one"))
		action := ctrl.OnFailure(sess, errors.New("strike two"))
		if action == ActionRetry {
			if _, err := ctrl.BeginRetry(testSpec()); err != nil {
				assert.ErrorIs(t, err, ErrBudgetExhausted)
			}
		}
		reg.Release("t")

		budget := ctrl.Budget(testSpec())
		assert.GreaterOrEqual(t, budget.Used, prev)
		assert.LessOrEqual(t, budget.Used, budget.Max)
		prev = budget.Used
	}
}
