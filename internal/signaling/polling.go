package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"rtclient/internal/domain"
)

const defaultPollTimeout = 30 * time.Second

// PollingTransport is the HTTP long-poll fallback. The server exposes
// POST {URL}/open -> {"sid"}, GET {URL}?sid= (blocks, returns a batch of
// envelopes or 204), POST {URL}?sid= (one envelope) and DELETE {URL}?sid=.
type PollingTransport struct {
	URL         string
	Client      *http.Client
	PollTimeout time.Duration
}

func NewPollingTransport(url string) *PollingTransport {
	return &PollingTransport{
		URL:         url,
		Client:      &http.Client{},
		PollTimeout: defaultPollTimeout,
	}
}

func (t *PollingTransport) Name() string { return "polling" }

type openResponse struct {
	SID string `json:"sid"`
}

func (t *PollingTransport) Dial(ctx context.Context, token string) (Conn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL+"/open", nil)
	if err != nil {
		return nil, fmt.Errorf("build open request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open poll session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: poll handshake rejected (%d)", domain.ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("open poll session: unexpected status %d", resp.StatusCode)
	}
	var open openResponse
	if err := json.NewDecoder(resp.Body).Decode(&open); err != nil {
		return nil, fmt.Errorf("decode open response: %w", err)
	}
	if open.SID == "" {
		return nil, errors.New("open poll session: empty sid")
	}

	connCtx, cancel := context.WithCancel(context.Background())
	return &pollConn{
		t:      t,
		token:  token,
		sid:    open.SID,
		ctx:    connCtx,
		cancel: cancel,
	}, nil
}

type pollConn struct {
	t      *PollingTransport
	token  string
	sid    string
	ctx    context.Context
	cancel context.CancelFunc

	pending   []Envelope
	closeOnce sync.Once
}

func (c *pollConn) endpoint() string {
	return c.t.URL + "?sid=" + url.QueryEscape(c.sid)
}

func (c *pollConn) do(ctx context.Context, method string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.t.Client.Do(req)
}

// Read is only called from the manager's read loop, so pending needs no lock.
func (c *pollConn) Read() (Envelope, error) {
	for len(c.pending) == 0 {
		batch, err := c.poll()
		if err != nil {
			return Envelope{}, err
		}
		c.pending = batch
	}
	env := c.pending[0]
	c.pending = c.pending[1:]
	return env, nil
}

func (c *pollConn) poll() ([]Envelope, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.t.PollTimeout+5*time.Second)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, nil)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode/100 != 2:
		return nil, fmt.Errorf("poll: unexpected status %d", resp.StatusCode)
	}
	var batch []Envelope
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("poll: decode batch: %w", err)
	}
	return batch, nil
}

func (c *pollConn) Write(env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.ctx, writeWait)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPost, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("poll send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("poll send: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *pollConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if resp, err := c.do(ctx, http.MethodDelete, nil); err == nil {
			resp.Body.Close()
		}
	})
	return nil
}
