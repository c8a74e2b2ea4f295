package sel4

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sel4go/sel4/provision"
)

// SessionState enumerates the lifecycle states of a Session.
type SessionState string

const (
	// StateCreated means the driver process is up and the remote session is
	// negotiated, but the session is not yet bound to a test.
	StateCreated SessionState = "created"
	// StateActive means the session is bound to exactly one test context.
	StateActive SessionState = "active"
	// StateQuarantined means the session is suspected unhealthy, excluded
	// from reuse, and scheduled for forced close.
	StateQuarantined SessionState = "quarantined"
	// StateClosed is terminal. No operation is permitted on a closed
	// session.
	StateClosed SessionState = "closed"
)

// driverController is the slice of DriverService that a Session owns.
// Narrowed so lifecycle tests can run without spawning processes.
type driverController interface {
	Stop() error
}

// Session is a live WebDriver-controlled browser process. A session is owned
// by the Registry for its whole lifetime and is handed to exactly one test
// context at a time.
type Session struct {
	handle   string
	remoteID string
	spec     *provision.DriverSpec
	caps     Capabilities
	wire     *wireClient
	service  driverController
	logger   logrus.FieldLogger

	mu    sync.Mutex
	state SessionState

	closeOnce sync.Once
	closeErr  error
}

// ID returns the process-local session handle.
func (s *Session) ID() string { return s.handle }

// RemoteID returns the driver-assigned WebDriver session ID.
func (s *Session) RemoteID() string { return s.remoteID }

// Spec returns the driver spec the session was launched from.
func (s *Session) Spec() *provision.DriverSpec { return s.spec }

// Capabilities returns the capability set the session was created with. The
// returned map must not be mutated.
func (s *Session) Capabilities() Capabilities { return s.caps }

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// activate transitions created -> active. Only the Registry calls this.
func (s *Session) activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCreated {
		return fmt.Errorf("session %s: cannot activate from state %q", s.handle, s.state)
	}
	s.state = StateActive
	return nil
}

// quarantine marks the session unhealthy. Idempotent; a closed session stays
// closed.
func (s *Session) quarantine() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || s.state == StateQuarantined {
		return
	}
	s.state = StateQuarantined
}

// guard refuses wire operations on sessions that are closed or excluded
// from use.
func (s *Session) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return ErrSessionClosed
	case StateQuarantined:
		return ErrQuarantined
	}
	return nil
}

// Close quits the remote session and stops the driver process. It runs
// exactly once; subsequent calls return the first result. The state
// transitions to StateClosed even when teardown of the remote end fails.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		var quitErr error
		if s.wire != nil && s.remoteID != "" {
			quitErr = s.wire.deleteSession(ctx, s.remoteID)
		}
		var stopErr error
		if s.service != nil {
			stopErr = s.service.Stop()
		}

		if quitErr != nil {
			// The driver teardown is what prevents orphans; a failed quit
			// alone is reported but the process is still gone.
			s.closeErr = fmt.Errorf("quitting session %s: %w", s.handle, quitErr)
		} else {
			s.closeErr = stopErr
		}
		s.logger.WithFields(logrus.Fields{
			"session": s.handle,
			"spec":    s.spec.String(),
		}).Debug("session closed")
	})
	return s.closeErr
}

// Alive probes the driver's status endpoint. A session that does not answer
// is a recovery candidate.
func (s *Session) Alive(ctx context.Context) bool {
	if err := s.guard(); err != nil {
		return false
	}
	if s.wire == nil {
		return false
	}
	_, err := s.wire.status(ctx)
	return err == nil
}

// Navigate loads url in the session's browser.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.wire.navigate(ctx, s.remoteID, url)
}

// Title returns the current page title.
func (s *Session) Title(ctx context.Context) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	return s.wire.title(ctx, s.remoteID)
}

// CurrentURL returns the browser's current URL.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	return s.wire.currentURL(ctx, s.remoteID)
}
