package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const (
	clientMaxRetries  = 3
	clientBackoffBase = 100 * time.Millisecond
	clientBackoffMax  = 1 * time.Second
	clientTimeout     = 8 * time.Second
	maxResponseSize   = 8 << 20
)

// Calls that must not be repeated after a transport failure because the
// daemon may already have acted on them.
var nonRetryable = map[string]bool{
	"sendtoaddress":  true,
	"sendpacket":     true,
	"registerbuffer": true,
	"releasebuffer":  true,
}

type Options struct {
	Address string
	User    string
	Pass    string
	Timeout time.Duration
	HTTP    *http.Client
}

// Client is a JSON-RPC 1.0 client for one daemon.
type Client struct {
	url    string
	user   string
	pass   string
	http   *http.Client
	nextID atomic.Uint64
}

var _ Service = (*Client)(nil)

func NewClient(opts Options) (*Client, error) {
	addr := strings.TrimSpace(opts.Address)
	if addr == "" {
		return nil, errors.New("missing rpc address")
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	hc := opts.HTTP
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = clientTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{url: addr, user: opts.User, pass: opts.Pass, http: hc}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, out any, params ...any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt <= clientMaxRetries; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return lastErr
			}
			return ctx.Err()
		}
		resp, err := c.roundTrip(ctx, body)
		if errors.Is(err, ErrUnauthorized) {
			return fmt.Errorf("%s: %w", method, err)
		}
		if err != nil {
			lastErr = fmt.Errorf("%s: %w: %v", method, ErrUnreachable, err)
			if nonRetryable[method] || !backoffRetry(ctx, attempt+1) {
				break
			}
			continue
		}
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
		return nil
	}
	return lastErr
}

func (c *Client) roundTrip(ctx context.Context, body []byte) (*rpcResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" || c.pass != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return nil, ErrUnauthorized
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	var out rpcResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("http %d: %w", res.StatusCode, err)
	}
	return &out, nil
}

func backoffRetry(ctx context.Context, failures int) bool {
	if failures <= 0 {
		return false
	}
	d := clientBackoffBase
	if failures > 1 {
		d = d * time.Duration(1<<uint(failures-1))
	}
	if d > clientBackoffMax {
		d = clientBackoffMax
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	var v float64
	err := c.call(ctx, "getbalance", &v)
	return v, err
}

func (c *Client) GetUnconfirmedBalance(ctx context.Context) (float64, error) {
	var v float64
	err := c.call(ctx, "getunconfirmedbalance", &v)
	return v, err
}

func (c *Client) GetNewAddress(ctx context.Context) (string, error) {
	var v string
	err := c.call(ctx, "getnewaddress", &v)
	return v, err
}

func (c *Client) SendToAddress(ctx context.Context, addr string, amount float64, memo string) (string, error) {
	var v string
	err := c.call(ctx, "sendtoaddress", &v, addr, amount, memo)
	return v, err
}

func (c *Client) GetBlockCount(ctx context.Context) (int64, error) {
	var v int64
	err := c.call(ctx, "getblockcount", &v)
	return v, err
}

func (c *Client) GetConnectionCount(ctx context.Context) (int64, error) {
	var v int64
	err := c.call(ctx, "getconnectioncount", &v)
	return v, err
}

func (c *Client) GetRoutingPubKey(ctx context.Context) (string, error) {
	var v string
	err := c.call(ctx, "getroutingpubkey", &v)
	return v, err
}

func (c *Client) FindRoute(ctx context.Context, tag string) error {
	return c.call(ctx, "findroute", nil, tag)
}

func (c *Client) HaveRoute(ctx context.Context, tag string) (bool, error) {
	var v bool
	err := c.call(ctx, "haveroute", &v, tag)
	return v, err
}

func (c *Client) RegisterBuffer(ctx context.Context, protocolID int) (string, error) {
	var v string
	err := c.call(ctx, "registerbuffer", &v, protocolID)
	return v, err
}

func (c *Client) ReleaseBuffer(ctx context.Context, protocolID int, sig string) error {
	return c.call(ctx, "releasebuffer", nil, protocolID, sig)
}

func (c *Client) ResetBufferTimeout(ctx context.Context, protocolID int, sig string) error {
	return c.call(ctx, "resetbuffertimeout", nil, protocolID, sig)
}

func (c *Client) BufferSignMessage(ctx context.Context, key, msg string) (string, error) {
	var v string
	err := c.call(ctx, "buffersignmessage", &v, key, msg)
	return v, err
}

func (c *Client) GetBuffer(ctx context.Context, protocolID int, sig string) ([]string, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "getbuffer", &raw, protocolID, sig); err != nil {
		return nil, err
	}
	return orderedValues(raw)
}

func (c *Client) SendPacket(ctx context.Context, tag string, protocolID, protocolVer int, data string) error {
	return c.call(ctx, "sendpacket", nil, tag, protocolID, protocolVer, data)
}

func (c *Client) GetNotificationEndpoints(ctx context.Context) ([]NotificationEndpoint, error) {
	var v []NotificationEndpoint
	err := c.call(ctx, "getzmqnotifications", &v)
	return v, err
}

// orderedValues returns the string entries of a buffer result in document
// order. The daemon answers with either an array or an object keyed by
// sequence number.
func orderedValues(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var out []string
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("getbuffer: %w", err)
		}
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("getbuffer: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("getbuffer: unexpected result %s", raw)
	}
	var out []string
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("getbuffer: %w", err)
		}
		var v string
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("getbuffer: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}
