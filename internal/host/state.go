// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

// Package host is a headless host shell around the plugin runtime. It owns
// the host state plugins can read, the console command registry they can
// invoke, and the per-frame loop that pumps plugin requests and forwards
// host events.
package host

import (
	"sort"
	"sync"
	"time"

	"github.com/spud-tui/spud/internal/plugin/protocol"
)

// DefaultStatusLine is shown until something replaces it.
const DefaultStatusLine = "DE-EVOLUTION IN PROGRESS."

const tpsWindow = time.Second

// State is the host state exposed to plugins through snapshots.
// It is safe for concurrent use.
type State struct {
	mu         sync.RWMutex
	startedAt  time.Time
	statusLine string
	active     *protocol.ActiveModule
	ticks      []time.Time
	telemetry  map[string]protocol.TelemetryDatum
}

// NewState creates a state whose uptime counts from startedAt.
func NewState(startedAt time.Time) *State {
	return &State{
		startedAt:  startedAt,
		statusLine: DefaultStatusLine,
		telemetry:  make(map[string]protocol.TelemetryDatum),
	}
}

// StartedAt returns the host start time.
func (s *State) StartedAt() time.Time {
	return s.startedAt
}

// Uptime returns the time elapsed since start, never negative.
func (s *State) Uptime(now time.Time) time.Duration {
	if d := now.Sub(s.startedAt); d > 0 {
		return d
	}
	return 0
}

// SetStatusLine replaces the status line.
func (s *State) SetStatusLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusLine = line
}

// StatusLine returns the current status line.
func (s *State) StatusLine() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLine
}

// SetActiveModule records the active module. A nil module clears it.
func (s *State) SetActiveModule(m *protocol.ActiveModule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m == nil {
		s.active = nil
		return
	}
	c := *m
	s.active = &c
}

// RecordTelemetry stores the latest value for source/key.
func (s *State) RecordTelemetry(d protocol.TelemetryDatum) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telemetry[d.Source+"\x00"+d.Key] = d
}

// Tick records one host tick for the ticks-per-second counter.
func (s *State) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, now)
	cutoff := now.Add(-tpsWindow)
	i := 0
	for i < len(s.ticks) && s.ticks[i].Before(cutoff) {
		i++
	}
	s.ticks = s.ticks[i:]
}

// TPS returns ticks per second over the last window. Fewer than two ticks
// report zero.
func (s *State) TPS() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.ticks) < 2 {
		return 0
	}
	return float64(len(s.ticks)) / tpsWindow.Seconds()
}

// Snapshot builds the read-only view handed to plugins.
func (s *State) Snapshot(now time.Time) protocol.StateSnapshot {
	tps := s.TPS()

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := protocol.StateSnapshot{
		StatusLine:    s.statusLine,
		UptimeSeconds: uint64(s.Uptime(now) / time.Second),
		TPS:           tps,
		Telemetry:     make([]protocol.TelemetryDatum, 0, len(s.telemetry)),
	}
	if s.active != nil {
		m := *s.active
		snap.ActiveModule = &m
	}
	for _, d := range s.telemetry {
		snap.Telemetry = append(snap.Telemetry, d)
	}
	sortTelemetry(snap.Telemetry)
	return snap
}

func sortTelemetry(data []protocol.TelemetryDatum) {
	sort.Slice(data, func(i, j int) bool {
		if data[i].Source != data[j].Source {
			return data[i].Source < data[j].Source
		}
		return data[i].Key < data[j].Key
	})
}
