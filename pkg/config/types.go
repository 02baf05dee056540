// Package config manages application-wide settings and directory structures.
// It follows the XDG base directory layout for cache and configuration.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"imgload/pkg/cache"
	"imgload/pkg/common"
)

// Duration is a time.Duration that reads and writes as "250ms".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"250ms\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Settings are the tunables read from config.json. Fields missing from the
// file keep their defaults.
type Settings struct {
	Workers        int      `json:"workers"`
	MemoryBudget   int64    `json:"memory_budget"`
	DiskBudget     int64    `json:"disk_budget"`
	DefaultSize    string   `json:"default_size,omitempty"`
	Format         string   `json:"format"`
	Quality        int      `json:"quality"`
	Paused         bool     `json:"paused"`
	BusyRetryDelay Duration `json:"busy_retry_delay"`
	BusyRetries    int      `json:"busy_retries"`
	LogLevel       string   `json:"log_level"`
	LogFormat      string   `json:"log_format"`
}

// DefaultSettings returns the built-in tunables.
func DefaultSettings() *Settings {
	return &Settings{
		Workers:        5,
		MemoryBudget:   20 << 20,
		Format:         string(cache.FormatJPEG),
		Quality:        90,
		BusyRetryDelay: Duration(250 * time.Millisecond),
		BusyRetries:    20,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Validate checks values that are parsed later.
func (s *Settings) Validate() error {
	var problems []string
	if s.Workers < 1 {
		problems = append(problems, fmt.Sprintf("workers must be positive, got %d", s.Workers))
	}
	if s.MemoryBudget < 0 {
		problems = append(problems, "memory_budget must not be negative")
	}
	if s.DiskBudget < 0 {
		problems = append(problems, "disk_budget must not be negative")
	}
	if _, err := cache.ParseFormat(s.Format); err != nil {
		problems = append(problems, err.Error())
	}
	if s.Quality < 1 || s.Quality > 100 {
		problems = append(problems, fmt.Sprintf("quality must be within 1..100, got %d", s.Quality))
	}
	if _, err := s.Size(); err != nil {
		problems = append(problems, err.Error())
	}
	if s.BusyRetries < 0 {
		problems = append(problems, "busy_retries must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid settings: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Size parses DefaultSize. An empty value is the zero Size.
func (s *Settings) Size() (common.Size, error) {
	if s.DefaultSize == "" {
		return common.Size{}, nil
	}
	return common.ParseSize(s.DefaultSize)
}
