package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ErrDetached is returned by Attach when the server dropped the stream
// because the client did not keep up with the session output.
var ErrDetached = errors.New("detached by server")

// Client talks to a Server. Every call uses its own connection.
type Client struct {
	SocketPath  string
	DialTimeout time.Duration
}

// NewClient returns a client for the socket at path.
func NewClient(socketPath string) *Client {
	return &Client{SocketPath: socketPath, DialTimeout: 3 * time.Second}
}

type rawResponse struct {
	Ok   bool            `json:"ok"`
	Err  string          `json:"err,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.DialTimeout}
	conn, err := d.DialContext(ctx, "unix", c.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return conn, nil
}

// send writes one request on conn and decodes the reply into out when it is
// not nil.
func send(conn net.Conn, action string, data interface{}, out interface{}) (*json.Decoder, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(conn).Encode(Request{Action: action, Data: raw}); err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(conn)
	var resp rawResponse
	if err := decoder.Decode(&resp); err != nil {
		return nil, err
	}
	if !resp.Ok {
		return nil, fmt.Errorf("%s failed: %s", action, resp.Err)
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return nil, fmt.Errorf("failed to parse %s response: %w", action, err)
		}
	}
	return decoder, nil
}

func (c *Client) call(ctx context.Context, action string, data interface{}, out interface{}) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	_, err = send(conn, action, data, out)
	return err
}

// Spawn starts a session. An empty id lets the server pick one; zero
// geometry uses the server defaults.
func (c *Client) Spawn(ctx context.Context, req SpawnRequest) (SpawnResponse, error) {
	var resp SpawnResponse
	err := c.call(ctx, "spawn", req, &resp)
	return resp, err
}

// Write sends text to a session.
func (c *Client) Write(ctx context.Context, id, data string) error {
	return c.call(ctx, "write", WriteRequest{ID: id, Data: data}, nil)
}

// WriteBytes sends raw input to a session. The bytes reach the shell
// unmodified, including ones that are not valid UTF-8.
func (c *Client) WriteBytes(ctx context.Context, id string, data []byte) error {
	return c.call(ctx, "write", WriteRequest{ID: id, Bytes: data}, nil)
}

// Resize changes a session's geometry.
func (c *Client) Resize(ctx context.Context, id string, cols, rows int) error {
	return c.call(ctx, "resize", ResizeRequest{ID: id, Cols: cols, Rows: rows}, nil)
}

// Kill closes a session.
func (c *Client) Kill(ctx context.Context, id string) error {
	return c.call(ctx, "kill", KillRequest{ID: id}, nil)
}

// List returns the registered sessions.
func (c *Client) List(ctx context.Context) (ListResponse, error) {
	var resp ListResponse
	err := c.call(ctx, "list", struct{}{}, &resp)
	return resp, err
}

// History returns journal entries, for one session when id is set.
func (c *Client) History(ctx context.Context, id string, limit int) (HistoryResponse, error) {
	var resp HistoryResponse
	err := c.call(ctx, "history", HistoryRequest{ID: id, Limit: limit}, &resp)
	return resp, err
}

// Attach streams a session's output to fn until the session ends or ctx is
// cancelled. It returns nil when the stream ends normally and ErrDetached
// when fn was too slow to keep up.
func (c *Client) Attach(ctx context.Context, id string, fn func(data string)) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	decoder, err := send(conn, "attach", AttachRequest{ID: id}, nil)
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var ev OutputEvent
		if err := decoder.Decode(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isEOF(err) {
				return nil
			}
			return fmt.Errorf("attach stream: %w", err)
		}
		if ev.Err != "" {
			return fmt.Errorf("%w: %s", ErrDetached, ev.Err)
		}
		fn(ev.Data)
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
