package wm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/kanapal/kanapal/internal/util"
)

// X11 listens for focus changes by shelling out to xprop.
type X11 struct {
	logger *util.Logger
	binary string
}

// NewX11 returns a listener using the xprop binary on PATH.
func NewX11(logger *util.Logger) (*X11, error) {
	if _, err := exec.LookPath("xprop"); err != nil {
		return nil, fmt.Errorf("xprop not found: %w", err)
	}
	return &X11{logger: logger, binary: "xprop"}, nil
}

// Name identifies the transport.
func (x *X11) Name() string { return "x11" }

func (x *X11) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, x.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("xprop %s: %v: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// ActiveWindow queries the root window for the focused window id and
// resolves its class and title.
func (x *X11) ActiveWindow(ctx context.Context) (Window, error) {
	out, err := x.run(ctx, "-root", "_NET_ACTIVE_WINDOW")
	if err != nil {
		return Window{}, err
	}
	id, ok := parseWindowID(strings.TrimSpace(string(out)))
	if !ok || id == "0x0" {
		return Window{Class: "*", Title: "*"}, nil
	}
	return x.windowByID(ctx, id)
}

func (x *X11) windowByID(ctx context.Context, id string) (Window, error) {
	out, err := x.run(ctx, "-id", id, "WM_CLASS", "_NET_WM_NAME")
	if err != nil {
		return Window{}, err
	}
	return parseWindowProps(string(out)), nil
}

// Subscribe spawns `xprop -root -spy` and resolves each focus change.
func (x *X11) Subscribe(ctx context.Context, fn func(Window)) error {
	initial, err := x.ActiveWindow(ctx)
	if err != nil {
		return err
	}
	fn(initial)

	cmd := exec.CommandContext(ctx, x.binary, "-root", "-spy", "_NET_ACTIVE_WINDOW")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xprop -spy: %w", err)
	}

	var lastID string
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		id, ok := parseWindowID(scanner.Text())
		if !ok || id == lastID {
			continue
		}
		lastID = id
		if id == "0x0" {
			fn(Window{Class: "*", Title: "*"})
			continue
		}
		win, err := x.windowByID(ctx, id)
		if err != nil {
			x.logger.Warnf("resolve window %s: %v", id, err)
			continue
		}
		fn(win)
	}
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("spy stream: %w", err)
	}
	if waitErr != nil {
		return fmt.Errorf("xprop -spy exited: %w", waitErr)
	}
	return fmt.Errorf("xprop -spy stream closed")
}

// parseWindowID extracts the hex id from a `_NET_ACTIVE_WINDOW(WINDOW):
// window id # 0x...` line.
func parseWindowID(line string) (string, bool) {
	if !strings.HasPrefix(line, "_NET_ACTIVE_WINDOW") {
		return "", false
	}
	_, after, found := strings.Cut(line, "#")
	if !found {
		return "", false
	}
	id, _, _ := strings.Cut(strings.TrimSpace(after), ",")
	id = strings.TrimSpace(id)
	if !strings.HasPrefix(id, "0x") {
		return "", false
	}
	return id, true
}

// parseWindowProps extracts class and title from xprop WM_CLASS and
// _NET_WM_NAME output. Missing properties normalize to "*".
func parseWindowProps(out string) Window {
	win := Window{Class: "*", Title: "*"}
	for _, line := range strings.Split(out, "\n") {
		_, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		parts := parseQuotedStrings(value)
		if len(parts) == 0 {
			continue
		}
		switch {
		case strings.HasPrefix(line, "WM_CLASS"):
			// WM_CLASS holds instance then class; the class is the match key.
			win.Class = normalizeField(parts[len(parts)-1])
		case strings.HasPrefix(line, "_NET_WM_NAME"):
			win.Title = normalizeField(parts[0])
		}
	}
	return win
}

// parseQuotedStrings decodes a comma-separated list of double-quoted
// strings with backslash escapes.
func parseQuotedStrings(s string) []string {
	var parts []string
	var current strings.Builder
	inQuote := false
	escaped := false
	for _, r := range s {
		switch {
		case !inQuote:
			if r == '"' {
				inQuote = true
				current.Reset()
			}
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			inQuote = false
			parts = append(parts, current.String())
		default:
			current.WriteRune(r)
		}
	}
	return parts
}
