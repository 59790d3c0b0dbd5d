package wm

import (
	"context"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kanapal/kanapal/internal/util"
)

func testLogger() *util.Logger {
	return util.NewLoggerWithWriter(util.LevelError, io.Discard)
}

func TestParseHyprlandEvent(t *testing.T) {
	cases := []struct {
		name string
		line string
		want Window
		ok   bool
	}{
		{
			name: "class and title",
			line: "activewindow>>kitty,~/src",
			want: Window{Class: "kitty", Title: "~/src"},
			ok:   true,
		},
		{
			name: "comma in title",
			line: "activewindow>>firefox,Docs, Sheets - Mozilla Firefox",
			want: Window{Class: "firefox", Title: "Docs, Sheets - Mozilla Firefox"},
			ok:   true,
		},
		{
			name: "empty fields normalize",
			line: "activewindow>>,",
			want: Window{Class: "*", Title: "*"},
			ok:   true,
		},
		{
			name: "other event kind",
			line: "workspace>>3",
		},
		{
			name: "no payload",
			line: "activewindow",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseHyprlandEvent(tc.line)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("window mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// serveQuerySocket answers one j/activewindow request per connection.
func serveQuerySocket(t *testing.T, path, response string) {
	t.Helper()
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			buf := make([]byte, 64)
			conn.Read(buf)
			conn.Write([]byte(response))
			conn.Close()
		}
	}()
}

func TestHyprlandActiveWindow(t *testing.T) {
	dir := t.TempDir()
	query := filepath.Join(dir, "q.sock")
	serveQuerySocket(t, query, `{"class":"kitty","title":"~/src"}`)

	h := &Hyprland{logger: testLogger(), querySocket: query}
	got, err := h.ActiveWindow(context.Background())
	if err != nil {
		t.Fatalf("ActiveWindow: %v", err)
	}
	want := Window{Class: "kitty", Title: "~/src"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("window mismatch (-want +got):\n%s", diff)
	}
}

func TestHyprlandActiveWindowNoFocus(t *testing.T) {
	dir := t.TempDir()
	query := filepath.Join(dir, "q.sock")
	serveQuerySocket(t, query, "Invalid")

	h := &Hyprland{logger: testLogger(), querySocket: query}
	got, err := h.ActiveWindow(context.Background())
	if err != nil {
		t.Fatalf("ActiveWindow: %v", err)
	}
	if diff := cmp.Diff(Window{Class: "*", Title: "*"}, got); diff != "" {
		t.Fatalf("window mismatch (-want +got):\n%s", diff)
	}
}

func TestHyprlandSubscribeDeliversInitialThenEvents(t *testing.T) {
	dir := t.TempDir()
	query := filepath.Join(dir, "q.sock")
	event := filepath.Join(dir, "e.sock")
	serveQuerySocket(t, query, `{"class":"kitty","title":"shell"}`)

	ln, err := net.Listen("unix", event)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("workspace>>2\n"))
		conn.Write([]byte("activewindow>>firefox,Mozilla Firefox\n"))
		conn.Close()
	}()

	h := &Hyprland{logger: testLogger(), querySocket: query, eventSocket: event}
	var got []Window
	err = h.Subscribe(context.Background(), func(w Window) {
		got = append(got, w)
	})
	if err == nil {
		t.Fatalf("expected error after event socket closed")
	}
	want := []Window{
		{Class: "kitty", Title: "shell"},
		{Class: "firefox", Title: "Mozilla Firefox"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("windows mismatch (-want +got):\n%s", diff)
	}
}

func TestHyprlandSubscribeStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	query := filepath.Join(dir, "q.sock")
	event := filepath.Join(dir, "e.sock")
	serveQuerySocket(t, query, `{"class":"kitty","title":"shell"}`)

	ln, err := net.Listen("unix", event)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// Hold the connection open until the test finishes.
		io.Copy(io.Discard, conn)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hyprland{logger: testLogger(), querySocket: query, eventSocket: event}
	done := make(chan error, 1)
	go func() {
		done <- h.Subscribe(ctx, func(Window) {})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}
