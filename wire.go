// WebDriver wire protocol client.
// See https://www.w3.org/TR/webdriver for the protocol.

package sel4

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

// jsonType is the content type of every wire payload.
const jsonType = "application/json"

// wireClient talks the WebDriver JSON protocol to a single driver endpoint.
type wireClient struct {
	addr   string
	client *http.Client
	logger logrus.FieldLogger
}

func newWireClient(addr string, client *http.Client) *wireClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &wireClient{
		addr:   addr,
		client: client,
		logger: logrus.WithField("component", "wire"),
	}
}

// wireError is the W3C error document carried in failing replies.
type wireError struct {
	Err     string `json:"error"`
	Message string `json:"message"`
}

func (e *wireError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err, e.Message)
	}
	return e.Err
}

type wireReply struct {
	Value json.RawMessage `json:"value"`
}

// execute performs one wire command and returns the raw value payload.
func (w *wireClient) execute(ctx context.Context, method, path string, params interface{}) (json.RawMessage, error) {
	var body io.Reader
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, w.addr+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", jsonType)
	if body != nil {
		req.Header.Set("Content-Type", jsonType)
	}

	w.logger.WithFields(logrus.Fields{"method": method, "path": path}).Trace("wire request")
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	reply := new(wireReply)
	if err := json.Unmarshal(buf, reply); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("bad server reply status: %s", resp.Status)
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		werr := new(wireError)
		if err := json.Unmarshal(reply.Value, werr); err != nil || werr.Err == "" {
			return nil, fmt.Errorf("bad server reply status: %s", resp.Status)
		}
		return nil, werr
	}
	return reply.Value, nil
}

// status fetches the driver's readiness document.
func (w *wireClient) status(ctx context.Context) (*DriverStatus, error) {
	value, err := w.execute(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return nil, err
	}
	status := new(DriverStatus)
	if err := json.Unmarshal(value, status); err != nil {
		return nil, err
	}
	return status, nil
}

// newSession negotiates a WebDriver session and returns its remote ID.
func (w *wireClient) newSession(ctx context.Context, caps Capabilities) (string, error) {
	params := map[string]interface{}{
		"capabilities": map[string]interface{}{
			"alwaysMatch": caps,
		},
		// Legacy drivers only look at desiredCapabilities.
		"desiredCapabilities": caps,
	}
	value, err := w.execute(ctx, http.MethodPost, "/session", params)
	if err != nil {
		return "", err
	}

	reply := new(struct {
		SessionID string `json:"sessionId"`
	})
	if err := json.Unmarshal(value, reply); err != nil {
		return "", err
	}
	if reply.SessionID == "" {
		return "", fmt.Errorf("driver did not return a session ID")
	}
	return reply.SessionID, nil
}

// deleteSession ends the remote session. The browser instance is closed.
func (w *wireClient) deleteSession(ctx context.Context, id string) error {
	_, err := w.execute(ctx, http.MethodDelete, "/session/"+id, nil)
	return err
}

// navigate loads url in the session's browsing context.
func (w *wireClient) navigate(ctx context.Context, id, url string) error {
	_, err := w.execute(ctx, http.MethodPost, "/session/"+id+"/url", map[string]string{"url": url})
	return err
}

// title returns the current page title.
func (w *wireClient) title(ctx context.Context, id string) (string, error) {
	value, err := w.execute(ctx, http.MethodGet, "/session/"+id+"/title", nil)
	if err != nil {
		return "", err
	}
	var title string
	if err := json.Unmarshal(value, &title); err != nil {
		return "", err
	}
	return title, nil
}

// currentURL returns the URL of the session's top-level browsing context.
func (w *wireClient) currentURL(ctx context.Context, id string) (string, error) {
	value, err := w.execute(ctx, http.MethodGet, "/session/"+id+"/url", nil)
	if err != nil {
		return "", err
	}
	var url string
	if err := json.Unmarshal(value, &url); err != nil {
		return "", err
	}
	return url, nil
}
