// Package telemetry reads the latest hardware reading written by an external poller.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// ErrNoReading is returned when no reading is available.
var ErrNoReading = errors.New("telemetry: no reading available")

// Reading is a snapshot of the system's battery and power state.
type Reading struct {
	Timestamp     time.Time          `json:"timestamp"`
	StateOfCharge *float64           `json:"soc,omitempty"`
	Voltage       *float64           `json:"voltage,omitempty"`
	Current       *float64           `json:"current,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	Status        string             `json:"status,omitempty"`
	Values        map[string]float64 `json:"values,omitempty"`
}

// Summary renders the reading as plain text lines for a prompt or a reply.
func (r Reading) Summary() string {
	var b strings.Builder
	if !r.Timestamp.IsZero() {
		fmt.Fprintf(&b, "Reading taken %s\n", r.Timestamp.UTC().Format(time.RFC3339))
	}
	line := func(label string, v *float64, unit string) {
		if v != nil {
			fmt.Fprintf(&b, "%s: %g%s\n", label, *v, unit)
		}
	}
	line("Battery state of charge", r.StateOfCharge, "%")
	line("Voltage", r.Voltage, " V")
	line("Current", r.Current, " A")
	line("Temperature", r.Temperature, " °C")
	if r.Status != "" {
		fmt.Fprintf(&b, "Status: %s\n", r.Status)
	}
	keys := make([]string, 0, len(r.Values))
	for k := range r.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %g\n", k, r.Values[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

// State of charge bands used by Assess, in percent.
const (
	SOCLow  = 20.0
	SOCGood = 50.0
)

// Assess judges the battery state of charge in one sentence. It reports false
// when the reading carries no state of charge.
func (r Reading) Assess() (string, bool) {
	if r.StateOfCharge == nil {
		return "", false
	}
	soc := *r.StateOfCharge
	switch {
	case soc < SOCLow:
		return fmt.Sprintf("The battery is at %g%%, which is low: it is below the %g%% alarm threshold.", soc, SOCLow), true
	case soc < SOCGood:
		return fmt.Sprintf("The battery is at %g%%, which is moderate: above the %g%% alarm threshold but under half charge.", soc, SOCLow), true
	default:
		return fmt.Sprintf("The battery is at %g%%, which is good.", soc), true
	}
}

// Source provides the latest reading.
type Source interface {
	Latest(ctx context.Context) (Reading, error)
}

// FileSource reads a JSON reading from a file on every call.
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Latest decodes the reading file. A missing or empty file yields ErrNoReading.
func (s *FileSource) Latest(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	if s.path == "" {
		return Reading{}, ErrNoReading
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Reading{}, ErrNoReading
	}
	if err != nil {
		return Reading{}, fmt.Errorf("read telemetry: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return Reading{}, ErrNoReading
	}
	var r Reading
	if err := json.Unmarshal(data, &r); err != nil {
		return Reading{}, fmt.Errorf("decode telemetry %s: %w", s.path, err)
	}
	return r, nil
}

// StaticSource always returns the same reading, or Err when set.
type StaticSource struct {
	Reading Reading
	Err     error
}

// Latest returns the configured reading.
func (s StaticSource) Latest(ctx context.Context) (Reading, error) {
	if s.Err != nil {
		return Reading{}, s.Err
	}
	return s.Reading, nil
}
