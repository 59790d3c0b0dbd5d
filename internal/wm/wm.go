package wm

import (
	"context"
	"fmt"
	"os"

	"github.com/kanapal/kanapal/internal/util"
)

// Window describes the focused window as seen by a listener. Fields that a
// window manager does not report are normalized to "*".
type Window struct {
	Class string `json:"class"`
	Title string `json:"title"`
}

// Listener streams window focus changes from one window-manager transport.
type Listener interface {
	// Name identifies the transport for logging.
	Name() string
	// ActiveWindow returns the currently focused window.
	ActiveWindow(ctx context.Context) (Window, error)
	// Subscribe blocks, delivering the already-focused window first and then
	// one Window per focus change, until the stream fails or ctx is done.
	// Duplicate notifications for the same window may be delivered.
	Subscribe(ctx context.Context, fn func(Window)) error
}

// Detect selects the listener for the running session environment.
func Detect(logger *util.Logger) (Listener, error) {
	switch {
	case os.Getenv("WAYLAND_DISPLAY") != "":
		if os.Getenv("HYPRLAND_INSTANCE_SIGNATURE") != "" {
			return NewHyprland(logger)
		}
		if os.Getenv("SWAYSOCK") != "" {
			return NewSway(logger)
		}
		return nil, fmt.Errorf("unsupported Wayland compositor: need Hyprland or Sway")
	case os.Getenv("DISPLAY") != "":
		return NewX11(logger)
	default:
		return nil, fmt.Errorf("unable to detect a window manager: none of WAYLAND_DISPLAY or DISPLAY is set")
	}
}

func normalizeField(s string) string {
	if s == "" {
		return "*"
	}
	return s
}
