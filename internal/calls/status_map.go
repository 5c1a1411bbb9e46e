package calls

import (
	"fmt"
	"strings"
)

// StatusMap translates provider status strings into internal states.
//
// The table is finite and validated once at startup; anything it does not
// list maps to StateFailed.
type StatusMap struct {
	entries map[string]State
}

// NewStatusMap validates and builds a status table.
func NewStatusMap(entries map[string]State) (StatusMap, error) {
	out := StatusMap{entries: make(map[string]State, len(entries))}
	covered := map[State]bool{}
	for raw, st := range entries {
		key := normalizeStatus(raw)
		if key == "" {
			return StatusMap{}, fmt.Errorf("calls: empty provider status key")
		}
		if !st.Valid() || st == StateQueued {
			return StatusMap{}, fmt.Errorf("calls: provider status %q maps to unusable state %q", raw, st)
		}
		if prev, ok := out.entries[key]; ok && prev != st {
			return StatusMap{}, fmt.Errorf("calls: provider status %q mapped twice (%q, %q)", raw, prev, st)
		}
		out.entries[key] = st
		covered[st] = true
	}
	for _, required := range []State{StateCompleted, StateFailed} {
		if !covered[required] {
			return StatusMap{}, fmt.Errorf("calls: status map has no entry for %q", required)
		}
	}
	return out, nil
}

// Map returns the internal state for a provider status.
// Unknown statuses return (StateFailed, false).
func (m StatusMap) Map(providerStatus string) (State, bool) {
	st, ok := m.entries[normalizeStatus(providerStatus)]
	if !ok {
		return StateFailed, false
	}
	return st, true
}

func (m StatusMap) Len() int { return len(m.entries) }

// TwilioStatusMap is the table for Twilio's CallStatus values.
func TwilioStatusMap() StatusMap {
	m, err := NewStatusMap(map[string]State{
		"queued":      StateDialing,
		"initiated":   StateDialing,
		"ringing":     StateRinging,
		"answered":    StateAnswered,
		"in-progress": StateAnswered,
		"completed":   StateCompleted,
		"busy":        StateBusy,
		"no-answer":   StateNoAnswer,
		"failed":      StateFailed,
		"canceled":    StateCancelled,
	})
	if err != nil {
		panic(err)
	}
	return m
}

func normalizeStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, "_", "-")
}
