package sel4

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// newExecCommand is swapped out by tests that fake subprocess behavior.
var newExecCommand = exec.Command

// ServiceOption configures a DriverService instance.
type ServiceOption func(*DriverService) error

// Output directs the driver process's stdout and stderr to w.
func Output(w io.Writer) ServiceOption {
	return func(s *DriverService) error {
		s.output = w
		return nil
	}
}

// Display sets the DISPLAY environment variable for the driver process, as
// well as the path to the Xauthority file containing credentials needed to
// write to that X server.
func Display(d, xauthPath string) ServiceOption {
	return func(s *DriverService) error {
		if s.display != "" {
			return fmt.Errorf("service display already set: %v", s.display)
		}
		if !isDisplay(d) {
			return fmt.Errorf("supplied display %q must be of the format 'x' or 'x.y' where x and y are integers", d)
		}
		s.display = d
		s.xauthPath = xauthPath
		return nil
	}
}

// WithFrameBuffer starts an X virtual frame buffer before the driver and
// points the driver's DISPLAY at it. The frame buffer is terminated when the
// service is stopped. Used for headed runs on display-less Linux hosts.
func WithFrameBuffer(options FrameBufferOptions) ServiceOption {
	return func(s *DriverService) error {
		if s.display != "" {
			return fmt.Errorf("service display already set: %v", s.display)
		}
		if s.xvfb != nil {
			return errors.New("service frame buffer already running")
		}
		fb, err := NewFrameBuffer(options)
		if err != nil {
			return fmt.Errorf("starting frame buffer: %w", err)
		}
		s.xvfb = fb
		return Display(fb.Display, fb.AuthPath)(s)
	}
}

// isDisplay validates that disp is in the format "x" or "x.y", where x and y
// are both integers.
func isDisplay(disp string) bool {
	ds := strings.Split(disp, ".")
	if len(ds) > 2 {
		return false
	}
	for _, d := range ds {
		if _, err := strconv.Atoi(d); err != nil {
			return false
		}
	}
	return true
}

// DriverService controls a locally-running WebDriver subprocess, e.g.
// chromedriver or geckodriver.
type DriverService struct {
	browser string
	port    int
	addr    string
	cmd     *exec.Cmd

	display, xauthPath string
	xvfb               *FrameBuffer

	// done receives the process exit status exactly once.
	done chan error

	output io.Writer
	logger logrus.FieldLogger
}

// Addr returns the base URL the driver listens on.
func (s *DriverService) Addr() string { return s.addr }

// FrameBuffer returns the frame buffer if one was started by the service and
// nil otherwise.
func (s *DriverService) FrameBuffer() *FrameBuffer { return s.xvfb }

// StartDriverService launches the driver binary for browser on port and
// waits until its /status endpoint responds or readyTimeout expires.
//
// Cancelling ctx during startup kills the subprocess; no orphan is left
// behind. After a successful return the process is owned by the returned
// DriverService and survives ctx.
func StartDriverService(ctx context.Context, browser, binary string, port int, readyTimeout time.Duration, opts ...ServiceOption) (*DriverService, error) {
	s := &DriverService{
		browser: browser,
		port:    port,
		addr:    fmt.Sprintf("http://localhost:%d", port),
		logger:  logrus.WithField("component", "service"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, &LaunchError{Browser: browser, Cause: err}
		}
	}

	cmd := newExecCommand(binary, driverArgs(browser, port)...)
	cmd.Stdout = s.output
	cmd.Stderr = s.output
	cmd.Env = os.Environ()
	if s.display != "" {
		cmd.Env = append(cmd.Env, "DISPLAY=:"+s.display)
	}
	if s.xauthPath != "" {
		cmd.Env = append(cmd.Env, "XAUTHORITY="+s.xauthPath)
	}
	s.cmd = cmd

	if err := cmd.Start(); err != nil {
		s.stopFrameBuffer()
		return nil, &LaunchError{Browser: browser, Cause: err}
	}
	s.done = make(chan error, 1)
	go func() { s.done <- cmd.Wait() }()
	s.logger.WithFields(logrus.Fields{
		"browser": browser, "binary": binary, "port": port,
	}).Debug("driver process started")

	if err := s.awaitReady(ctx, readyTimeout); err != nil {
		s.terminate()
		s.stopFrameBuffer()
		return nil, err
	}
	return s, nil
}

// terminate kills the driver process and waits for it to be reaped.
func (s *DriverService) terminate() error {
	s.cmd.Process.Kill()
	if err := <-s.done; err != nil && !isKilled(err) {
		return err
	}
	return nil
}

func driverArgs(browser string, port int) []string {
	switch browser {
	case "firefox":
		return []string{"--port", strconv.Itoa(port)}
	default:
		return []string{"--port=" + strconv.Itoa(port)}
	}
}

// awaitReady polls the driver's /status endpoint until it answers, the
// timeout expires, the context is cancelled, or the process exits early.
func (s *DriverService) awaitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return &LaunchError{Browser: s.browser, Cause: ctx.Err()}
		case err := <-s.done:
			// Re-arm done so terminate can still drain the exit status.
			s.done <- err
			if err == nil {
				err = errors.New("clean exit before ready")
			}
			return &LaunchError{Browser: s.browser, Cause: fmt.Errorf("driver process exited early: %w", err)}
		case <-deadline.C:
			return &LaunchTimeout{Browser: s.browser, Addr: s.addr}
		case <-tick.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.addr+"/status", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

// Stop shuts down the driver subprocess and the X virtual frame buffer if
// one was started.
func (s *DriverService) Stop() error {
	if err := s.terminate(); err != nil {
		return err
	}
	return s.stopFrameBuffer()
}

func (s *DriverService) stopFrameBuffer() error {
	if s.xvfb == nil {
		return nil
	}
	return s.xvfb.Stop()
}

func isKilled(err error) bool {
	return err != nil && err.Error() == "signal: killed"
}

// FrameBufferOptions describes how to create an X virtual frame buffer.
type FrameBufferOptions struct {
	// ScreenSize is the frame buffer screen size, of the form
	// "{width}x{height}[x{depth}]", for example "1024x768x24".
	ScreenSize string
}

// FrameBuffer controls an X virtual frame buffer running as a background
// process.
type FrameBuffer struct {
	// Display is the X11 display number that the Xvfb process is hosting
	// (without the preceding colon).
	Display string
	// AuthPath is the path to the X11 authorization file that permits X
	// clients to use the X server, typically handed to clients via the
	// XAUTHORITY environment variable.
	AuthPath string

	cmd *exec.Cmd
}

var screenSizeExpression = regexp.MustCompile(`^\d+x\d+(?:x\d+)$`)

// NewFrameBuffer starts an X virtual frame buffer in the background.
func NewFrameBuffer(options FrameBufferOptions) (*FrameBuffer, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	auth, err := os.CreateTemp("", "sel4-xvfb")
	if err != nil {
		return nil, err
	}
	authPath := auth.Name()
	if err := auth.Close(); err != nil {
		return nil, err
	}

	// Xvfb prints the display it is listening on to file descriptor 3, for
	// which we provide a pipe.
	arguments := []string{"-displayfd", "3", "-nolisten", "tcp"}
	if options.ScreenSize != "" {
		if !screenSizeExpression.MatchString(options.ScreenSize) {
			return nil, fmt.Errorf("invalid screen size: expected 'WxH[xD]', got %q", options.ScreenSize)
		}
		arguments = append(arguments, "-screen", "0", options.ScreenSize)
	}
	xvfb := newExecCommand("Xvfb", arguments...)
	xvfb.ExtraFiles = []*os.File{w}
	xvfb.Env = append(xvfb.Env, "XAUTHORITY="+authPath)
	if err := xvfb.Start(); err != nil {
		return nil, err
	}
	w.Close()

	type resp struct {
		display string
		err     error
	}
	ch := make(chan resp)
	go func() {
		bufr := bufio.NewReader(r)
		s, err := bufr.ReadString('\n')
		ch <- resp{s, err}
	}()

	var display string
	select {
	case resp := <-ch:
		if resp.err != nil {
			return nil, resp.err
		}
		display = strings.TrimSpace(resp.display)
		if _, err := strconv.Atoi(display); err != nil {
			return nil, errors.New("Xvfb did not print the display number")
		}
	case <-time.After(3 * time.Second):
		return nil, errors.New("timeout waiting for Xvfb")
	}

	xauth := newExecCommand("xauth", "generate", ":"+display, ".", "trusted")
	xauth.Stderr = os.Stderr
	xauth.Stdout = os.Stdout
	xauth.Env = append(xauth.Env, "XAUTHORITY="+authPath)
	if err := xauth.Run(); err != nil {
		return nil, err
	}

	return &FrameBuffer{display, authPath, xvfb}, nil
}

// Stop kills the background frame buffer process and removes the X
// authorization file.
func (f FrameBuffer) Stop() error {
	if err := f.cmd.Process.Kill(); err != nil {
		return err
	}
	os.Remove(f.AuthPath) // best effort removal; ignore error
	if err := f.cmd.Wait(); err != nil && !isKilled(err) {
		return err
	}
	return nil
}
