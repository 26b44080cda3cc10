package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/mdtxn/internal/application/port/output"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/distxn"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/model/update"
)

var errForeign = errors.New("handle belongs to another device")

// Client is a participant served by a remote Server. Every device call is one round
// trip; StopLocal carries the recorded result so the remote side aborts on its own.
type Client struct {
	id      distxn.DeviceID
	baseURL string
	http    *http.Client
}

// remoteLocal is the per-handle state
type remoteLocal struct {
	token    string
	remoteID string
}

// NewClient creates a client for device id served at baseURL.
// A nil httpClient uses a client with a 30 second timeout.
func NewClient(id distxn.DeviceID, baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		id:      id,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// ID returns the device ID
func (c *Client) ID() distxn.DeviceID { return c.id }

// CreateLocal creates the local transaction on the remote side
func (c *Client) CreateLocal(ctx context.Context) (*distxn.Handle, error) {
	var resp createResponse
	path := "/v1/devices/" + url.PathEscape(string(c.id)) + "/handles"
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return distxn.NewHandle(c.id, &remoteLocal{token: resp.Handle, remoteID: resp.HandleID}), nil
}

// StartLocal starts the remote local transaction with the handle's flags
func (c *Client) StartLocal(ctx context.Context, h *distxn.Handle) error {
	l, err := c.local(h)
	if err != nil {
		return err
	}
	req := startRequest{Sync: h.Sync, LocalOnly: h.LocalOnly}
	if tx, ok := distxn.FromHandle(h); ok {
		req.TopTxnID = tx.ID()
	}
	return c.do(ctx, http.MethodPost, "/v1/handles/"+l.token+"/start", req, nil)
}

// Write sends one update
func (c *Client) Write(ctx context.Context, h *distxn.Handle, op update.Op) error {
	l, err := c.local(h)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/v1/handles/"+l.token+"/write", writeRequest{Op: op}, nil)
}

// StopLocal commits or aborts the remote local transaction. An aborted handle returns
// its recorded result, whatever the remote side answered.
func (c *Client) StopLocal(ctx context.Context, h *distxn.Handle) error {
	l, err := c.local(h)
	if err != nil {
		return err
	}
	req := stopRequest{Sync: h.Sync}
	if h.Result != nil {
		req.Error = h.Result.Error()
		req.Code = distxn.Code(h.Result)
	}

	err = c.do(ctx, http.MethodPost, "/v1/handles/"+l.token+"/stop", req, nil)
	if h.Result != nil {
		if err != nil {
			var remoteErr *Error
			if !errors.As(err, &remoteErr) {
				distxn.GetLogger().Warn("Remote abort not delivered device=%s handle=%s error=%v", c.id, l.remoteID, err)
			}
		}
		return h.Result
	}
	return err
}

func (c *Client) local(h *distxn.Handle) (*remoteLocal, error) {
	if h == nil || h.Device() != c.id {
		return nil, errForeign
	}
	l, ok := h.Payload().(*remoteLocal)
	if !ok {
		return nil, errForeign
	}
	return l, nil
}

// Get reads a committed entry from the remote device
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	key, err := update.NormalizeKey(key)
	if err != nil {
		return "", err
	}
	var resp entryResponse
	path := "/v1/devices/" + url.PathEscape(string(c.id)) + "/entries/" + escapeKey(key)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		var remoteErr *Error
		if errors.As(err, &remoteErr) && remoteErr.Status == http.StatusNotFound {
			return "", fmt.Errorf("%s on %s: %w", key, c.id, output.ErrEntryNotFound)
		}
		return "", err
	}
	return resp.Value, nil
}

// Keys lists the committed keys of the remote device
func (c *Client) Keys(ctx context.Context) ([]string, error) {
	var resp keysResponse
	path := "/v1/devices/" + url.PathEscape(string(c.id)) + "/keys"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = resp.Status
		}
		return &Error{Status: resp.StatusCode, Message: e.Error, code: e.Code}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
