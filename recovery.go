package sel4

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/sel4go/sel4/provision"
)

// Action is the recovery controller's verdict on a session failure.
type Action int

const (
	// ActionFail surfaces the failure as an ordinary test failure.
	ActionFail Action = iota
	// ActionRetry quarantines the session and allows the test one fresh
	// attempt; the caller must go through BeginRetry first.
	ActionRetry
	// ActionExhausted reports the test as an error. The driver
	// configuration is barred from further sessions this run.
	ActionExhausted
)

func (a Action) String() string {
	switch a {
	case ActionFail:
		return "fail"
	case ActionRetry:
		return "retry"
	case ActionExhausted:
		return "exhausted"
	}
	return "unknown"
}

type specHealth int

const (
	healthNormal specHealth = iota
	healthSuspect
	healthQuarantined
	healthRetrying
	healthFailed
)

// RetryBudget bounds recovery attempts for one driver configuration within
// a run. Used only grows and never exceeds Max.
type RetryBudget struct {
	Used int
	Max  int
}

// Remaining reports how many recovery attempts are left.
func (b RetryBudget) Remaining() int {
	if b.Used >= b.Max {
		return 0
	}
	return b.Max - b.Used
}

type specState struct {
	health  specHealth
	budget  RetryBudget
	backoff backoff.BackOff
}

// Controller classifies session failures and decides between retrying a
// test on a fresh session and giving up on the driver configuration.
// All transitions for a configuration are serialized, so concurrent
// suspicion signals quarantine it exactly once.
type Controller struct {
	registry *Registry
	logger   logrus.FieldLogger

	maxAttempts int

	mu     sync.Mutex
	states map[string]*specState
}

// NewController returns a Controller granting each driver configuration
// maxAttempts recovery attempts per run.
func NewController(registry *Registry, maxAttempts int) *Controller {
	return &Controller{
		registry:    registry,
		logger:      logrus.WithField("component", "recovery"),
		maxAttempts: maxAttempts,
		states:      make(map[string]*specState),
	}
}

func (c *Controller) state(key string) *specState {
	st, ok := c.states[key]
	if !ok {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 500 * time.Millisecond
		bo.MaxInterval = 10 * time.Second
		st = &specState{
			budget:  RetryBudget{Max: c.maxAttempts},
			backoff: bo,
		}
		c.states[key] = st
	}
	return st
}

// OnFailure records an operation failure against sess. A first failure only
// raises suspicion; every consecutive one quarantines the session and,
// budget permitting, clears the test for a retry. Once the budget is drained
// the configuration is barred. A session that is already quarantined
// contributes nothing further; budget is spent only in BeginRetry.
func (c *Controller) OnFailure(sess *Session, cause error) Action {
	if sess != nil {
		switch sess.State() {
		case StateQuarantined, StateClosed:
			// This session's failure has already been accounted for.
			return ActionFail
		}
	}

	spec := sess.Spec()
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(spec.Key())

	log := c.logger.WithFields(logrus.Fields{
		"spec":  spec.String(),
		"error": cause,
	})

	switch st.health {
	case healthNormal:
		st.health = healthSuspect
		log.Warn("session failure, configuration now suspect")
		return ActionFail

	case healthSuspect, healthRetrying, healthQuarantined:
		st.health = healthQuarantined
		c.registry.ForceQuarantine(sess)
		if st.budget.Remaining() == 0 {
			st.health = healthFailed
			c.registry.Bar(spec, ErrBudgetExhausted)
			log.Error("retry budget exhausted, configuration barred")
			return ActionExhausted
		}
		log.Warn("consecutive session failure, configuration quarantined")
		return ActionRetry

	case healthFailed:
		return ActionExhausted
	}
	return ActionFail
}

// BeginRetry consumes one budget unit for spec and returns the delay to wait
// before the fresh attempt. It fails with ErrBudgetExhausted when another
// worker drained the budget in the meantime.
func (c *Controller) BeginRetry(spec *provision.DriverSpec) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(spec.Key())

	if st.health == healthFailed || st.budget.Remaining() == 0 {
		st.health = healthFailed
		c.registry.Bar(spec, ErrBudgetExhausted)
		return 0, ErrBudgetExhausted
	}
	st.budget.Used++
	st.health = healthRetrying
	delay := st.backoff.NextBackOff()
	c.logger.WithFields(logrus.Fields{
		"spec":    spec.String(),
		"used":    st.budget.Used,
		"max":     st.budget.Max,
		"backoff": delay,
	}).Info("retrying on a fresh session")
	return delay, nil
}

// OnSuccess records a healthy test run for spec, clearing suspicion. Budget
// already spent stays spent.
func (c *Controller) OnSuccess(spec *provision.DriverSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(spec.Key())
	switch st.health {
	case healthSuspect, healthRetrying:
		st.health = healthNormal
		st.backoff.Reset()
	}
}

// Budget returns a copy of the current budget for spec.
func (c *Controller) Budget(spec *provision.DriverSpec) RetryBudget {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state(spec.Key()).budget
}
