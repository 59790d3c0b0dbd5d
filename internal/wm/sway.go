package wm

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/kanapal/kanapal/internal/util"
)

// Sway listens for focus changes over the i3 IPC protocol.
type Sway struct {
	logger *util.Logger
	socket string
}

// NewSway locates the sway IPC socket from SWAYSOCK.
func NewSway(logger *util.Logger) (*Sway, error) {
	socket := os.Getenv("SWAYSOCK")
	if socket == "" {
		return nil, fmt.Errorf("SWAYSOCK not set")
	}
	return &Sway{logger: logger, socket: socket}, nil
}

// Name identifies the transport.
func (s *Sway) Name() string { return "sway" }

const swayMagic = "i3-ipc"

const (
	swayMsgSubscribe = 2
	swayMsgGetTree   = 4
	swayEventWindow  = 0x80000003
)

type swayNode struct {
	Focused          bool   `json:"focused"`
	AppID            string `json:"app_id"`
	Name             string `json:"name"`
	WindowProperties *struct {
		Class string `json:"class"`
	} `json:"window_properties"`
	Nodes         []swayNode `json:"nodes"`
	FloatingNodes []swayNode `json:"floating_nodes"`
}

// ActiveWindow walks the layout tree for the focused container.
func (s *Sway) ActiveWindow(ctx context.Context) (Window, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", s.socket)
	if err != nil {
		return Window{}, fmt.Errorf("connect sway socket: %w", err)
	}
	defer conn.Close()
	if err := writeSwayMessage(conn, swayMsgGetTree, nil); err != nil {
		return Window{}, err
	}
	_, payload, err := readSwayMessage(conn)
	if err != nil {
		return Window{}, err
	}
	var root swayNode
	if err := json.Unmarshal(payload, &root); err != nil {
		return Window{}, fmt.Errorf("decode tree: %w", err)
	}
	if node := findFocused(&root); node != nil {
		return windowFromSwayNode(node), nil
	}
	return Window{Class: "*", Title: "*"}, nil
}

// Subscribe streams window events until the stream fails or ctx is cancelled.
func (s *Sway) Subscribe(ctx context.Context, fn func(Window)) error {
	initial, err := s.ActiveWindow(ctx)
	if err != nil {
		return err
	}
	fn(initial)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", s.socket)
	if err != nil {
		return fmt.Errorf("connect sway socket: %w", err)
	}
	defer conn.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := writeSwayMessage(conn, swayMsgSubscribe, []byte(`["window"]`)); err != nil {
		return err
	}
	_, payload, err := readSwayMessage(conn)
	if err != nil {
		return err
	}
	var ack struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(payload, &ack); err != nil || !ack.Success {
		return fmt.Errorf("subscribe to window events refused: %s", payload)
	}
	s.logger.Debugf("subscribed to sway window events at %s", s.socket)

	for {
		msgType, payload, err := readSwayMessage(conn)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("event stream: %w", err)
		}
		if msgType != swayEventWindow {
			continue
		}
		win, ok := parseSwayWindowEvent(payload)
		if !ok {
			continue
		}
		fn(win)
	}
}

// parseSwayWindowEvent extracts the window from a window event payload.
// Focus changes always count; title changes only for the focused container.
func parseSwayWindowEvent(payload []byte) (Window, bool) {
	var event struct {
		Change    string   `json:"change"`
		Container swayNode `json:"container"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return Window{}, false
	}
	switch event.Change {
	case "focus":
	case "title":
		if !event.Container.Focused {
			return Window{}, false
		}
	default:
		return Window{}, false
	}
	return windowFromSwayNode(&event.Container), true
}

func windowFromSwayNode(node *swayNode) Window {
	class := node.AppID
	if class == "" && node.WindowProperties != nil {
		class = node.WindowProperties.Class
	}
	return Window{Class: normalizeField(class), Title: normalizeField(node.Name)}
}

func findFocused(node *swayNode) *swayNode {
	if node.Focused {
		return node
	}
	for i := range node.Nodes {
		if found := findFocused(&node.Nodes[i]); found != nil {
			return found
		}
	}
	for i := range node.FloatingNodes {
		if found := findFocused(&node.FloatingNodes[i]); found != nil {
			return found
		}
	}
	return nil
}

func writeSwayMessage(w io.Writer, msgType uint32, payload []byte) error {
	buf := make([]byte, len(swayMagic)+8+len(payload))
	copy(buf, swayMagic)
	binary.LittleEndian.PutUint32(buf[6:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[10:], msgType)
	copy(buf[14:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write ipc message: %w", err)
	}
	return nil
}

func readSwayMessage(r io.Reader) (uint32, []byte, error) {
	header := make([]byte, len(swayMagic)+8)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, fmt.Errorf("read ipc header: %w", err)
	}
	if string(header[:6]) != swayMagic {
		return 0, nil, fmt.Errorf("bad ipc magic %q", header[:6])
	}
	length := binary.LittleEndian.Uint32(header[6:])
	msgType := binary.LittleEndian.Uint32(header[10:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("read ipc payload: %w", err)
	}
	return msgType, payload, nil
}
