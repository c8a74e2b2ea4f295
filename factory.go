package sel4

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sel4go/sel4/provision"
)

// DefaultReadyTimeout bounds how long a driver process may take to report
// ready plus how long session negotiation may take.
const DefaultReadyTimeout = 30 * time.Second

// SessionFactory creates sessions. Implemented by Factory; narrowed to an
// interface so the registry and recovery layers can be exercised without
// spawning real driver processes.
type SessionFactory interface {
	Create(ctx context.Context, spec *provision.DriverSpec, opts *Options) (*Session, error)
}

// Factory builds capability sets and launches WebDriver sessions against
// resolved driver specs.
type Factory struct {
	// ReadyTimeout bounds the driver launch and session negotiation.
	// Defaults to DefaultReadyTimeout.
	ReadyTimeout time.Duration
	// HTTPClient is used for wire traffic. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// ServiceOptions are applied to every driver service the factory
	// starts, e.g. Output or WithFrameBuffer.
	ServiceOptions []ServiceOption

	logger logrus.FieldLogger
}

// NewFactory returns a Factory with defaults filled in.
func NewFactory() *Factory {
	return &Factory{
		ReadyTimeout: DefaultReadyTimeout,
		logger:       logrus.WithField("component", "factory"),
	}
}

func (f *Factory) readyTimeout() time.Duration {
	if f.ReadyTimeout > 0 {
		return f.ReadyTimeout
	}
	return DefaultReadyTimeout
}

func (f *Factory) log() logrus.FieldLogger {
	if f.logger == nil {
		f.logger = logrus.WithField("component", "factory")
	}
	return f.logger
}

// Create builds Capabilities from spec and opts, launches the driver
// process, waits for its ready signal under the factory's timeout and
// negotiates a WebDriver session. On success the returned Session is in
// StateCreated.
//
// Cancelling ctx aborts the launch, tears down anything already started and
// leaves no orphaned driver process.
func (f *Factory) Create(ctx context.Context, spec *provision.DriverSpec, opts *Options) (*Session, error) {
	caps, err := opts.BuildCapabilities(spec)
	if err != nil {
		return nil, err
	}

	port, err := freePort()
	if err != nil {
		return nil, &LaunchError{Browser: spec.Browser, Cause: err}
	}

	svc, err := StartDriverService(ctx, spec.Browser, spec.BinaryPath, port, f.readyTimeout(), f.ServiceOptions...)
	if err != nil {
		return nil, err
	}

	wire := newWireClient(svc.Addr(), f.HTTPClient)
	negotiate, cancel := context.WithTimeout(ctx, f.readyTimeout())
	defer cancel()
	remoteID, err := wire.newSession(negotiate, caps)
	if err != nil {
		svc.Stop()
		if negotiate.Err() != nil {
			return nil, &LaunchTimeout{Browser: spec.Browser, Addr: svc.Addr()}
		}
		return nil, &LaunchError{Browser: spec.Browser, Cause: err}
	}

	sess := &Session{
		handle:   uuid.NewString(),
		remoteID: remoteID,
		spec:     spec,
		caps:     caps,
		wire:     wire,
		service:  svc,
		state:    StateCreated,
		logger:   f.log(),
	}
	f.log().WithFields(logrus.Fields{
		"session": sess.handle,
		"remote":  remoteID,
		"spec":    spec.String(),
		"addr":    svc.Addr(),
	}).Info("session created")
	return sess, nil
}

// freePort asks the kernel for an unused local port.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
