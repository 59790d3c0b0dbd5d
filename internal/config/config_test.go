package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apps.json")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDocumentForm(t *testing.T) {
	path := writeConfig(t, `{
		"base_layer": "base",
		"global_exec": "notify-send layer",
		"rules": [
			{"class": "^kitty$", "title": "^vim$", "layer": "vim_layer"},
			{"class": false, "title": "VLC media player", "layer": null},
			{"layer": "base", "cmd": "true", "fake_key": ["fk1", "tap"], "set_mouse": [10, 20]}
		]
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseLayer != "base" {
		t.Fatalf("base layer = %q, want %q", cfg.BaseLayer, "base")
	}
	if cfg.GlobalExec != "notify-send layer" {
		t.Fatalf("global exec = %q", cfg.GlobalExec)
	}
	if len(cfg.Rules) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(cfg.Rules))
	}

	first := cfg.Rules[0]
	want := Rule{
		Class: OptionalString{Value: "^kitty$", Set: true},
		Title: OptionalString{Value: "^vim$", Set: true},
		Layer: OptionalString{Value: "vim_layer", Set: true},
	}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Fatalf("rule 1 mismatch (-want +got):\n%s", diff)
	}

	second := cfg.Rules[1]
	if second.Class.Set {
		t.Fatalf("class false should decode as unset, got %+v", second.Class)
	}
	if second.Layer.Set {
		t.Fatalf("layer null should decode as unset, got %+v", second.Layer)
	}
	if !second.Title.Set || second.Title.Value != "VLC media player" {
		t.Fatalf("title = %+v", second.Title)
	}

	third := cfg.Rules[2]
	if third.FakeKey == nil || third.FakeKey.Name != "fk1" || third.FakeKey.Action != "Tap" {
		t.Fatalf("fake key = %+v, want fk1/Tap (normalized)", third.FakeKey)
	}
	if third.SetMouse == nil || third.SetMouse.X != 10 || third.SetMouse.Y != 20 {
		t.Fatalf("set mouse = %+v", third.SetMouse)
	}
}

func TestLoadBareRuleArray(t *testing.T) {
	path := writeConfig(t, `[{"class": "kitty", "layer": "term"}]`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseLayer != "" || len(cfg.Rules) != 1 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Rules[0].Layer.Value != "term" {
		t.Fatalf("layer = %+v", cfg.Rules[0].Layer)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		wantErr  string
	}{
		{
			name:     "malformed json",
			contents: `{"rules": [`,
			wantErr:  "decode config",
		},
		{
			name:     "unexpected rule key",
			contents: `{"rules": [{"layer": "x", "kls": "kitty"}]}`,
			wantErr:  `unexpected key "kls"`,
		},
		{
			name:     "unexpected top-level key",
			contents: `{"default_layer": "x", "rules": []}`,
			wantErr:  `unexpected key "default_layer"`,
		},
		{
			name:     "empty rule",
			contents: `{"rules": [{}]}`,
			wantErr:  "rule must not be empty",
		},
		{
			name:     "rule not an object",
			contents: `{"rules": ["kitty"]}`,
			wantErr:  "rule must be an object",
		},
		{
			name:     "blank layer",
			contents: `{"rules": [{"layer": "  "}]}`,
			wantErr:  `"layer" must be a non-empty string`,
		},
		{
			name:     "true is not a valid field value",
			contents: `{"rules": [{"class": true, "layer": "x"}]}`,
			wantErr:  "true is not a valid value",
		},
		{
			name:     "numeric pattern",
			contents: `{"rules": [{"class": 3, "layer": "x"}]}`,
			wantErr:  "expected a string, false, or null",
		},
		{
			name:     "fake key wrong arity",
			contents: `{"rules": [{"layer": "x", "fake_key": ["only"]}]}`,
			wantErr:  "fake_key must be an array of two strings",
		},
		{
			name:     "fake key wrong element type",
			contents: `{"rules": [{"layer": "x", "fake_key": ["fk1", 2]}]}`,
			wantErr:  "fake_key must be an array of two strings",
		},
		{
			name:     "fake key invalid action",
			contents: `{"rules": [{"layer": "x", "fake_key": ["fk1", "smash"]}]}`,
			wantErr:  `invalid fake key action "smash"`,
		},
		{
			name:     "set mouse wrong type",
			contents: `{"rules": [{"layer": "x", "set_mouse": ["a", "b"]}]}`,
			wantErr:  "set_mouse must be an array of two integers",
		},
		{
			name:     "set mouse wrong arity",
			contents: `{"rules": [{"layer": "x", "set_mouse": [1, 2, 3]}]}`,
			wantErr:  "set_mouse must be an array of two integers",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.contents)
			_, err := Load(path)
			if err == nil {
				t.Fatalf("Load succeeded, want error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateLayers(t *testing.T) {
	path := writeConfig(t, `{
		"base_layer": "base",
		"rules": [{"class": "kitty", "layer": "term"}, {"title": "x", "layer": false}]
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := cfg.ValidateLayers([]string{"base", "term"}); err != nil {
		t.Fatalf("ValidateLayers: %v", err)
	}
	if err := cfg.ValidateLayers([]string{"base"}); err == nil || !strings.Contains(err.Error(), `layer "term"`) {
		t.Fatalf("expected unknown layer error, got %v", err)
	}
	if err := cfg.ValidateLayers([]string{"term"}); err == nil || !strings.Contains(err.Error(), `base_layer "base"`) {
		t.Fatalf("expected unknown base layer error, got %v", err)
	}
}

func TestNormalizeFakeKeyAction(t *testing.T) {
	valid := map[string]string{
		"tap":     "Tap",
		"TAP":     "Tap",
		"press":   "Press",
		"Release": "Release",
		"toggle":  "Toggle",
	}
	for input, want := range valid {
		got, err := NormalizeFakeKeyAction(input)
		if err != nil {
			t.Fatalf("NormalizeFakeKeyAction(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("NormalizeFakeKeyAction(%q) = %q, want %q", input, got, want)
		}
	}
	for _, input := range []string{"", "hold", "taps"} {
		if _, err := NormalizeFakeKeyAction(input); err == nil {
			t.Fatalf("NormalizeFakeKeyAction(%q) succeeded, want error", input)
		}
	}
}

func TestWildcard(t *testing.T) {
	cases := []struct {
		field OptionalString
		want  bool
	}{
		{OptionalString{}, true},
		{OptionalString{Value: "*", Set: true}, true},
		{OptionalString{Value: "kitty", Set: true}, false},
	}
	for _, tc := range cases {
		if got := tc.field.Wildcard(); got != tc.want {
			t.Fatalf("Wildcard(%+v) = %v, want %v", tc.field, got, tc.want)
		}
	}
}

func TestDefaultPath(t *testing.T) {
	path := DefaultPath()
	if !strings.HasSuffix(path, filepath.Join("kanata", "apps.json")) {
		t.Fatalf("unexpected default path %q", path)
	}
}
