package common

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseSource(t *testing.T) {
	if s := ParseSource("https://example.com/a.jpg"); !s.IsRemote() || s.URL() != "https://example.com/a.jpg" {
		t.Errorf("expected remote source, got %v", s)
	}
	if s := ParseSource("HTTP://example.com/a.jpg"); !s.IsRemote() {
		t.Errorf("expected scheme match to ignore case, got %v", s)
	}
	if s := ParseSource("/tmp/a.jpg"); s.IsRemote() || s.Path() != "/tmp/a.jpg" {
		t.Errorf("expected local source, got %v", s)
	}
}

func TestKeyHashDependsOnSize(t *testing.T) {
	src := Remote("http://x/img.jpg")
	a := KeyFor(src, Size{Width: 100, Height: 100})
	b := KeyFor(src, Size{Width: 200, Height: 200})
	if a.Hash() == b.Hash() {
		t.Errorf("expected different hashes for different sizes")
	}
	if a.Hash() != KeyFor(src, Size{Width: 100, Height: 100}).Hash() {
		t.Errorf("expected stable hash")
	}
	if len(a.Hash()) != 32 {
		t.Errorf("expected hex md5, got %q", a.Hash())
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    Size
		wantErr bool
	}{
		{"", Size{}, false},
		{"100x50", Size{100, 50}, false},
		{"64", Size{64, 64}, false},
		{"axb", Size{}, true},
		{"-1x5", Size{}, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSize(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSize(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIntegrityMismatchIsNetwork(t *testing.T) {
	err := fmt.Errorf("resume: %w", ErrIntegrityMismatch)
	if !errors.Is(err, ErrIntegrityMismatch) {
		t.Errorf("expected integrity mismatch")
	}
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("expected integrity mismatch to count as network failure")
	}
	if errors.Is(ErrNetwork, ErrIntegrityMismatch) {
		t.Errorf("plain network failure is not an integrity mismatch")
	}
}
