package kanata

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kanapal/kanapal/internal/util"
)

const (
	defaultDialTimeout = 3 * time.Second
	defaultReadTimeout = 2 * time.Second
	initialRetryDelay  = 250 * time.Millisecond
	maxRetryDelay      = 2 * time.Second
)

// DaemonError is an error message pushed by kanata in response to a request.
type DaemonError struct {
	Msg string
}

func (e *DaemonError) Error() string {
	return fmt.Sprintf("kanata error: %s", e.Msg)
}

// Client owns one TCP session to the kanata server. The session is dialed
// lazily, reused across calls, and re-dialed with capped backoff after a
// write or read failure. Fire-and-forget sends that fail are dropped; the
// next focus event re-derives the correct layer, which is the system's
// recovery mechanism.
type Client struct {
	addr   string
	logger *util.Logger

	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	seq     uint64
	backoff time.Duration

	dialTimeout time.Duration
	readTimeout time.Duration
	retryDelay  time.Duration
	maxDelay    time.Duration
}

// New creates a client for the given host:port address (see ParseAddr).
func New(addr string, logger *util.Logger) *Client {
	return &Client{
		addr:        addr,
		logger:      logger,
		dialTimeout: defaultDialTimeout,
		readTimeout: defaultReadTimeout,
		retryDelay:  initialRetryDelay,
		maxDelay:    maxRetryDelay,
	}
}

// Close tears down the session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

// ChangeLayer sends a layer switch command. Fire-and-forget: kanata does not
// acknowledge it.
func (c *Client) ChangeLayer(ctx context.Context, name string) error {
	return c.send(ctx, request{ChangeLayer: &changeLayer{New: name}})
}

// ActOnFakeKey triggers a virtual key defined in the kanata config.
func (c *Client) ActOnFakeKey(ctx context.Context, name, action string) error {
	return c.send(ctx, request{ActOnFakeKey: &actOnFakeKey{Name: name, Action: action}})
}

// SetMouse moves the cursor to an absolute position. kanata may not support
// this on every platform; the command is sent regardless and any error the
// daemon pushes back surfaces through the session log.
func (c *Client) SetMouse(ctx context.Context, x, y int) error {
	return c.send(ctx, request{SetMouse: &setMouse{X: x, Y: y}})
}

// CurrentLayerName returns the name of the active layer.
func (c *Client) CurrentLayerName(ctx context.Context) (string, error) {
	var name string
	err := c.roundTrip(ctx, request{RequestCurrentLayerName: &struct{}{}}, func(r *response) bool {
		if r.CurrentLayerName == nil {
			return false
		}
		name = r.CurrentLayerName.Name
		return true
	})
	return name, err
}

// CurrentLayerInfo returns the active layer's name and config text.
func (c *Client) CurrentLayerInfo(ctx context.Context) (*LayerInfo, error) {
	var info *LayerInfo
	err := c.roundTrip(ctx, request{RequestCurrentLayerInfo: &struct{}{}}, func(r *response) bool {
		if r.CurrentLayerInfo == nil {
			return false
		}
		info = r.CurrentLayerInfo
		return true
	})
	return info, err
}

// LayerNames returns every layer defined in the kanata config.
func (c *Client) LayerNames(ctx context.Context) ([]string, error) {
	var names []string
	err := c.roundTrip(ctx, request{RequestLayerNames: &struct{}{}}, func(r *response) bool {
		if r.LayerNames == nil {
			return false
		}
		names = r.LayerNames.Names
		return true
	})
	return names, err
}

// send writes one command without waiting for a response, reconnecting once
// on failure. A send that fails both attempts is dropped (at-most-once).
func (c *Client) send(ctx context.Context, req request) error {
	line, err := encodeMessage(req)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if lastErr != nil {
			if err := c.waitBackoffLocked(ctx); err != nil {
				return err
			}
		}
		if err := c.ensureConnLocked(ctx); err != nil {
			lastErr = err
			continue
		}
		c.seq++
		c.logger.Debugf("send #%d: %s", c.seq, bytes.TrimSpace(line))
		c.drainLocked()
		if _, err := c.conn.Write(line); err != nil {
			c.dropLocked(err)
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// roundTrip writes one request and blocks for the correlated response line,
// skipping unsolicited pushes, reconnecting once on session failure.
func (c *Client) roundTrip(ctx context.Context, req request, extract func(*response) bool) error {
	line, err := encodeMessage(req)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if lastErr != nil {
			if err := c.waitBackoffLocked(ctx); err != nil {
				return err
			}
		}
		if err := c.ensureConnLocked(ctx); err != nil {
			lastErr = err
			continue
		}
		c.seq++
		c.logger.Debugf("request #%d: %s", c.seq, bytes.TrimSpace(line))
		c.drainLocked()
		if _, err := c.conn.Write(line); err != nil {
			c.dropLocked(err)
			lastErr = err
			continue
		}

		deadline := time.Now().Add(c.readTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		_ = c.conn.SetReadDeadline(deadline)
		err := c.readCorrelatedLocked(extract)
		if err == nil {
			_ = c.conn.SetReadDeadline(time.Time{})
			return nil
		}
		// A protocol or daemon error fails the request but not the session.
		var perr *ProtocolError
		var derr *DaemonError
		if errors.As(err, &perr) || errors.As(err, &derr) {
			_ = c.conn.SetReadDeadline(time.Time{})
			return err
		}
		c.dropLocked(err)
		lastErr = err
	}
	return lastErr
}

func (c *Client) readCorrelatedLocked(extract func(*response) bool) error {
	for {
		raw, err := c.reader.ReadBytes('\n')
		if err != nil {
			return err
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		resp, err := decodeLine(raw)
		if err != nil {
			return err
		}
		switch {
		case resp.LayerChange != nil:
			c.logger.Debugf("kanata switched to layer %q", resp.LayerChange.New)
		case resp.Error != nil:
			return &DaemonError{Msg: resp.Error.Msg}
		case extract(resp):
			return nil
		default:
			c.logger.Debugf("skipping uncorrelated response: %s", raw)
		}
	}
}

func (c *Client) ensureConnLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("connect to kanata at %s: %w (is kanata running with -p %s?)", c.addr, err, c.addr)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.backoff = 0
	c.logger.Debugf("connected to kanata at %s", c.addr)
	return nil
}

func (c *Client) dropLocked(err error) {
	c.logger.Warnf("kanata session error: %v", err)
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
	switch {
	case c.backoff == 0:
		c.backoff = c.retryDelay
	case c.backoff < c.maxDelay:
		c.backoff *= 2
		if c.backoff > c.maxDelay {
			c.backoff = c.maxDelay
		}
	}
}

func (c *Client) waitBackoffLocked(ctx context.Context) error {
	if c.backoff <= 0 {
		return nil
	}
	select {
	case <-time.After(c.backoff):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drainLocked discards stale complete lines, typically LayerChange pushes
// accumulated since the last read, so the server never blocks on a full
// receive buffer and responses correlate to the newest request.
func (c *Client) drainLocked() {
	if c.conn == nil {
		return
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	for {
		if _, err := c.reader.ReadBytes('\n'); err != nil {
			break
		}
	}
	_ = c.conn.SetReadDeadline(time.Time{})
}
