package sel4

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZephyrReporterPayload(t *testing.T) {
	var got zephyrExecution
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	rep := NewZephyrReporter(srv.URL, "token-1", "CYCLE-7", NewRunInfo("chromium"))
	err := rep.Report(Outcome{
		TestID:   "t1",
		Status:   StatusFailed,
		Markers:  Markers{TestCase: "ZEPH-123", Issues: []string{"BUG-1", "BUG-2"}},
		Reason:   "banner missing",
		Duration: 1200 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.Equal(t, "ZEPH-123", got.TestCase)
	assert.Equal(t, "CYCLE-7", got.Cycle)
	assert.Equal(t, "FAIL", got.Status)
	assert.Equal(t, []string{"BUG-1", "BUG-2"}, got.Issues)
	assert.Equal(t, int64(1200), got.DurationMS)
	assert.Equal(t, "chromium", got.Environment.Browser)
}

func TestZephyrReporterSkipsUnmarkedTests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("reporter posted an outcome without a testcase marker")
	}))
	defer srv.Close()

	rep := NewZephyrReporter(srv.URL, "", "CYCLE-7", RunInfo{})
	require.NoError(t, rep.Report(Outcome{TestID: "t1", Status: StatusPassed}))
}

func TestZephyrReporterRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rep := NewZephyrReporter(srv.URL, "", "C", RunInfo{})
	rep.Timeout = 30 * time.Second
	err := rep.Report(Outcome{Status: StatusPassed, Markers: Markers{TestCase: "ZEPH-1"}})
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestZephyrReporterGivesUpOnClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	rep := NewZephyrReporter(srv.URL, "bad-token", "C", RunInfo{})
	err := rep.Report(Outcome{Status: StatusPassed, Markers: Markers{TestCase: "ZEPH-1"}})
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "4xx responses must not be retried")
}

func TestZephyrStatusMapping(t *testing.T) {
	assert.Equal(t, "PASS", zephyrStatus[StatusPassed])
	assert.Equal(t, "PASS", zephyrStatus[StatusXFailed])
	assert.Equal(t, "FAIL", zephyrStatus[StatusError])
	assert.Equal(t, "FAIL", zephyrStatus[StatusXPassed])
}
