package sel4

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// zephyrStatus maps verdicts to the status vocabulary of the test-management
// system.
var zephyrStatus = map[Status]string{
	StatusPassed:  "PASS",
	StatusFailed:  "FAIL",
	StatusError:   "FAIL",
	StatusXFailed: "PASS",
	StatusXPassed: "FAIL",
}

// ZephyrReporter mirrors test outcomes to a Zephyr-style test-management
// endpoint. Outcomes without a testcase marker are skipped; there is nothing
// to attach them to.
type ZephyrReporter struct {
	Endpoint   string
	APIToken   string
	Cycle      string
	HTTPClient *http.Client
	Timeout    time.Duration

	runInfo RunInfo
	logger  logrus.FieldLogger
}

// NewZephyrReporter returns a reporter posting to endpoint under the given
// test cycle.
func NewZephyrReporter(endpoint, apiToken, cycle string, runInfo RunInfo) *ZephyrReporter {
	return &ZephyrReporter{
		Endpoint:   endpoint,
		APIToken:   apiToken,
		Cycle:      cycle,
		HTTPClient: http.DefaultClient,
		Timeout:    30 * time.Second,
		runInfo:    runInfo,
		logger:     logrus.WithField("component", "zephyr"),
	}
}

type zephyrExecution struct {
	TestCase     string        `json:"testCase"`
	Cycle        string        `json:"cycle,omitempty"`
	Status       string        `json:"status"`
	Comment      string        `json:"comment,omitempty"`
	Issues       []string      `json:"issues,omitempty"`
	Observations []Observation `json:"observations,omitempty"`
	ExecutedOn   string        `json:"executedOn"`
	Environment  RunInfo       `json:"environment"`
	DurationMS   int64         `json:"durationMs"`
}

// Report posts the outcome, retrying transient failures with exponential
// backoff inside the configured timeout.
func (z *ZephyrReporter) Report(outcome Outcome) error {
	if outcome.Markers.TestCase == "" {
		return nil
	}

	exec := zephyrExecution{
		TestCase:     outcome.Markers.TestCase,
		Cycle:        z.Cycle,
		Status:       zephyrStatus[outcome.Status],
		Comment:      outcome.Reason,
		Issues:       outcome.Markers.Issues,
		Observations: outcome.Observations,
		ExecutedOn:   time.Now().UTC().Format(time.RFC3339),
		Environment:  z.runInfo,
		DurationMS:   outcome.Duration.Milliseconds(),
	}
	body, err := json.Marshal(exec)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), z.Timeout)
	defer cancel()

	op := func() error { return z.post(ctx, body) }
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return fmt.Errorf("mirroring %s to zephyr: %w", outcome.Markers.TestCase, err)
	}
	z.logger.WithFields(logrus.Fields{
		"testcase": outcome.Markers.TestCase,
		"status":   exec.Status,
	}).Debug("outcome mirrored")
	return nil
}

func (z *ZephyrReporter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.Endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if z.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+z.APIToken)
	}

	resp, err := z.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return backoff.Permanent(fmt.Errorf("zephyr rejected execution: %s", resp.Status))
	default:
		return fmt.Errorf("zephyr unavailable: %s", resp.Status)
	}
}
