package sel4

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sel4go/sel4/provision"
)

// releaseTimeout bounds session teardown so that no release can hang a
// worker indefinitely.
const releaseTimeout = 30 * time.Second

// Registry tracks active sessions keyed by test identity. It enforces
// at-most-one session per test context and guarantees teardown exactly once
// per acquired session.
type Registry struct {
	factory SessionFactory
	logger  logrus.FieldLogger

	mu     sync.Mutex
	bound  map[string]*Session
	barred map[string]error // spec key -> why no further sessions
}

// NewRegistry returns a Registry creating sessions through factory.
func NewRegistry(factory SessionFactory) *Registry {
	return &Registry{
		factory: factory,
		logger:  logrus.WithField("component", "registry"),
		bound:   make(map[string]*Session),
		barred:  make(map[string]error),
	}
}

// Acquire creates a session for testID against spec and binds it. The
// returned session is in StateActive. It fails with *AlreadyBound when
// testID already holds a session (an internal-consistency fault), and with
// the bar reason when the spec has been excluded from further use.
func (r *Registry) Acquire(ctx context.Context, testID string, spec *provision.DriverSpec, opts *Options) (*Session, error) {
	r.mu.Lock()
	if _, ok := r.bound[testID]; ok {
		r.mu.Unlock()
		return nil, &AlreadyBound{TestID: testID}
	}
	if reason, ok := r.barred[spec.Key()]; ok {
		r.mu.Unlock()
		return nil, reason
	}
	// Reserve the slot so a concurrent Acquire for the same testID fails
	// fast instead of racing the launch.
	r.bound[testID] = nil
	r.mu.Unlock()

	sess, err := r.factory.Create(ctx, spec, opts)
	if err != nil {
		r.mu.Lock()
		delete(r.bound, testID)
		r.mu.Unlock()
		return nil, err
	}
	if err := sess.activate(); err != nil {
		sess.Close(ctx)
		r.mu.Lock()
		delete(r.bound, testID)
		r.mu.Unlock()
		return nil, err
	}

	r.mu.Lock()
	r.bound[testID] = sess
	r.mu.Unlock()
	r.logger.WithFields(logrus.Fields{
		"test":    testID,
		"session": sess.ID(),
	}).Debug("session acquired")
	return sess, nil
}

// Release closes and unbinds the session held by testID. It is safe to call
// on every exit path; the underlying close runs exactly once per session.
func (r *Registry) Release(testID string) error {
	r.mu.Lock()
	sess, ok := r.bound[testID]
	if sess != nil {
		delete(r.bound, testID)
	}
	r.mu.Unlock()

	if !ok || sess == nil {
		// A nil binding is a launch still in flight; the owning Acquire
		// resolves the reservation.
		return fmt.Errorf("release: no session bound to test %q", testID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	err := sess.Close(ctx)
	r.logger.WithFields(logrus.Fields{
		"test":    testID,
		"session": sess.ID(),
	}).Debug("session released")
	return err
}

// ForceQuarantine marks sess unhealthy, unbinds it from whichever test holds
// it and schedules a forced close. Used by the recovery controller; callers
// must not touch the session afterwards.
func (r *Registry) ForceQuarantine(sess *Session) {
	sess.quarantine()

	r.mu.Lock()
	for id, bound := range r.bound {
		if bound == sess {
			delete(r.bound, id)
			break
		}
	}
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"session": sess.ID(),
		"spec":    sess.Spec().String(),
	}).Warn("session quarantined")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		sess.Close(ctx)
	}()
}

// Bar excludes spec from any further session creation for the remainder of
// the run; subsequent Acquire calls fail with reason.
func (r *Registry) Bar(spec *provision.DriverSpec, reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.barred[spec.Key()]; !ok {
		r.barred[spec.Key()] = reason
	}
}

// Active returns the session currently bound to testID, or nil.
func (r *Registry) Active(testID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bound[testID]
}

// CloseAll force-closes every bound session. Called on run-wide abort; it
// must leave no orphaned driver processes behind.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.bound))
	for id, sess := range r.bound {
		if sess != nil {
			sessions = append(sessions, sess)
		}
		delete(r.bound, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			s.Close(ctx)
		}(sess)
	}
	wg.Wait()
}
