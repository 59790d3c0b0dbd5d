package wm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/kanapal/kanapal/internal/util"
)

// Hyprland listens for focus changes over the Hyprland IPC sockets.
type Hyprland struct {
	logger      *util.Logger
	querySocket string
	eventSocket string
}

// NewHyprland locates the Hyprland sockets for the current instance.
func NewHyprland(logger *util.Logger) (*Hyprland, error) {
	query, err := hyprSocketPath(".socket.sock")
	if err != nil {
		return nil, err
	}
	event, err := hyprSocketPath(".socket2.sock")
	if err != nil {
		return nil, err
	}
	return &Hyprland{logger: logger, querySocket: query, eventSocket: event}, nil
}

// Name identifies the transport.
func (h *Hyprland) Name() string { return "hyprland" }

// ActiveWindow queries the command socket for the focused window.
func (h *Hyprland) ActiveWindow(ctx context.Context) (Window, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", h.querySocket)
	if err != nil {
		return Window{}, fmt.Errorf("connect command socket: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("j/activewindow")); err != nil {
		return Window{}, fmt.Errorf("query activewindow: %w", err)
	}
	data, err := io.ReadAll(conn)
	if err != nil {
		return Window{}, fmt.Errorf("read activewindow: %w", err)
	}
	var payload struct {
		Class string `json:"class"`
		Title string `json:"title"`
	}
	// Hyprland answers "Invalid" outside JSON mode and "{}" when nothing is
	// focused; treat anything undecodable as no window.
	if err := json.Unmarshal(data, &payload); err != nil {
		return Window{Class: "*", Title: "*"}, nil
	}
	return Window{Class: normalizeField(payload.Class), Title: normalizeField(payload.Title)}, nil
}

// Subscribe streams activewindow events from the event socket until the
// stream fails or ctx is cancelled.
func (h *Hyprland) Subscribe(ctx context.Context, fn func(Window)) error {
	initial, err := h.ActiveWindow(ctx)
	if err != nil {
		return err
	}
	fn(initial)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", h.eventSocket)
	if err != nil {
		return fmt.Errorf("connect event socket: %w", err)
	}
	defer conn.Close()
	h.logger.Debugf("subscribed to hyprland events at %s", h.eventSocket)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		win, ok := parseHyprlandEvent(scanner.Text())
		if !ok {
			continue
		}
		fn(win)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("event stream: %w", err)
	}
	return fmt.Errorf("event socket closed")
}

// parseHyprlandEvent extracts the window from an activewindow event line.
// Other event kinds are ignored.
func parseHyprlandEvent(line string) (Window, bool) {
	parts := strings.SplitN(line, ">>", 2)
	if parts[0] != "activewindow" || len(parts) != 2 {
		return Window{}, false
	}
	fields := strings.SplitN(parts[1], ",", 2)
	win := Window{Class: normalizeField(fields[0]), Title: "*"}
	if len(fields) == 2 {
		win.Title = normalizeField(fields[1])
	}
	return win, true
}

func hyprSocketPath(name string) (string, error) {
	sig := os.Getenv("HYPRLAND_INSTANCE_SIGNATURE")
	if sig == "" {
		return "", fmt.Errorf("HYPRLAND_INSTANCE_SIGNATURE not set")
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return "", fmt.Errorf("XDG_RUNTIME_DIR not set")
	}
	return filepath.Join(runtimeDir, "hypr", sig, name), nil
}
