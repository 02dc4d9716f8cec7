package storage

import (
	"errors"
	"testing"
	"time"
)

func TestGetString(t *testing.T) {
	cfg := map[string]string{"a": "x", "empty": ""}
	if got := GetString(cfg, "a", "d"); got != "x" {
		t.Fatalf("got %q, want x", got)
	}
	if got := GetString(cfg, "empty", "d"); got != "d" {
		t.Fatalf("empty value should fall back to default, got %q", got)
	}
	if got := GetString(cfg, "missing", "d"); got != "d" {
		t.Fatalf("got %q, want d", got)
	}
}

func TestGetBool(t *testing.T) {
	cfg := map[string]string{"t": "yes", "f": "0", "bad": "maybe"}

	v, err := GetBool(cfg, "t", false)
	if err != nil || !v {
		t.Fatalf("got %v, %v", v, err)
	}
	v, err = GetBool(cfg, "f", true)
	if err != nil || v {
		t.Fatalf("got %v, %v", v, err)
	}
	if _, err = GetBool(cfg, "bad", false); err == nil {
		t.Fatal("expected error for invalid boolean")
	}
	var ce *ConfigError
	if _, err = GetBool(cfg, "bad", false); !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %T", err)
	}
}

func TestGetDuration(t *testing.T) {
	cfg := map[string]string{"d": "90s", "secs": "30", "bad": "soon"}

	d, err := GetDuration(cfg, "d", 0)
	if err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	d, err = GetDuration(cfg, "secs", 0)
	if err != nil || d != 30*time.Second {
		t.Fatalf("plain integer should parse as seconds, got %v, %v", d, err)
	}
	d, err = GetDuration(cfg, "missing", time.Minute)
	if err != nil || d != time.Minute {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err = GetDuration(cfg, "bad", 0); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestParseSize(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1024", 1024},
		{"10MB", 10_000_000},
		{"25MiB", 25 << 20},
		{"1GiB", 1 << 30},
		{"2kb", 2000},
		{"512B", 512},
	}
	for _, tc := range cases {
		got, err := ParseSize(tc.in)
		if err != nil {
			t.Fatalf("ParseSize(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}

	if _, err := ParseSize("lots"); err == nil {
		t.Fatal("expected error for non-numeric size")
	}
}

func TestGetSizeBytes(t *testing.T) {
	cfg := map[string]string{"max": "10MB", "bad": "huge"}

	n, err := GetSizeBytes(cfg, "max", 0)
	if err != nil || n != 10_000_000 {
		t.Fatalf("got %d, %v", n, err)
	}
	n, err = GetSizeBytes(cfg, "missing", 42)
	if err != nil || n != 42 {
		t.Fatalf("got %d, %v", n, err)
	}
	if _, err = GetSizeBytes(cfg, "bad", 0); err == nil {
		t.Fatal("expected error for invalid size")
	}
}

func TestMergeConfig(t *testing.T) {
	dst := map[string]string{"a": "1", "b": "2"}
	src := map[string]string{"b": "3", "c": "4"}

	merged := MergeConfig(dst, src)
	if merged["a"] != "1" || merged["b"] != "3" || merged["c"] != "4" {
		t.Fatalf("unexpected merge result: %v", merged)
	}
	if dst["b"] != "2" {
		t.Fatal("MergeConfig must not mutate dst")
	}
}
