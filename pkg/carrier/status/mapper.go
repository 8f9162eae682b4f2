// Package status maps each carrier's status vocabulary onto the canonical
// order lifecycle.
package status

import (
	"sort"
	"strings"
	"sync"

	"github.com/tournevent/carrierhub/pkg/carrier"
)

// DefaultState is where unmapped input lands.
const DefaultState = carrier.StateInTransit

// Rule maps descriptions containing a substring (case-insensitive) to a state.
type Rule struct {
	Contains string
	State    carrier.OrderState
}

// Table is one carrier's vocabulary. Codes are matched exactly after
// upper-casing and trimming; Rules are tried in order against the description.
type Table struct {
	Codes map[string]carrier.OrderState
	Rules []Rule
}

// Resolve classifies a raw status. Precedence: exact code, then description
// substring, then DefaultState. When the description is empty the raw status
// text is used for the substring pass. matched is false for the default.
func (t Table) Resolve(raw, description string) (state carrier.OrderState, matched bool) {
	if s, ok := t.Codes[normalizeCode(raw)]; ok {
		return s, true
	}
	text := description
	if strings.TrimSpace(text) == "" {
		text = raw
	}
	text = strings.ToLower(text)
	if text != "" {
		for _, r := range t.Rules {
			if r.Contains != "" && strings.Contains(text, strings.ToLower(r.Contains)) {
				return r.State, true
			}
		}
	}
	return DefaultState, false
}

// Merge returns a copy of t with extra applied on top: extra codes replace
// existing ones and extra rules are tried before existing ones.
func (t Table) Merge(extra Table) Table {
	out := Table{
		Codes: make(map[string]carrier.OrderState, len(t.Codes)+len(extra.Codes)),
		Rules: make([]Rule, 0, len(t.Rules)+len(extra.Rules)),
	}
	for k, v := range t.Codes {
		out.Codes[k] = v
	}
	for k, v := range extra.Codes {
		out.Codes[normalizeCode(k)] = v
	}
	out.Rules = append(out.Rules, extra.Rules...)
	out.Rules = append(out.Rules, t.Rules...)
	return out
}

func normalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// GapFunc is called whenever an input falls through to the default bucket.
type GapFunc func(id carrier.Identity, raw, description string)

// Mapper holds one table per carrier. It is safe for concurrent use.
type Mapper struct {
	tables map[carrier.Identity]Table
	onGap  GapFunc
	mu     sync.RWMutex
}

// NewMapper creates a mapper with no tables; every input maps to DefaultState.
func NewMapper(onGap GapFunc) *Mapper {
	return &Mapper{
		tables: make(map[carrier.Identity]Table),
		onGap:  onGap,
	}
}

// Register installs the table for a carrier, replacing any previous one.
// Code keys are normalized.
func (m *Mapper) Register(id carrier.Identity, t Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[id] = Table{}.Merge(t)
}

// Extend merges overrides into a carrier's existing table.
func (m *Mapper) Extend(id carrier.Identity, extra Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[id] = m.tables[id].Merge(extra)
}

// Resolve classifies a raw status for a carrier and reports whether a table
// entry matched. Unknown carriers resolve to DefaultState. It never fails.
func (m *Mapper) Resolve(id carrier.Identity, raw, description string) (carrier.OrderState, bool) {
	state, matched := m.resolve(id, raw, description)
	if !matched && m.onGap != nil {
		m.onGap(id, raw, description)
	}
	return state, matched
}

func (m *Mapper) resolve(id carrier.Identity, raw, description string) (carrier.OrderState, bool) {
	m.mu.RLock()
	t, ok := m.tables[id]
	m.mu.RUnlock()
	if !ok {
		return DefaultState, false
	}
	return t.Resolve(raw, description)
}

// Map is Resolve without the match flag.
func (m *Mapper) Map(id carrier.Identity, raw, description string) carrier.OrderState {
	state, _ := m.Resolve(id, raw, description)
	return state
}

// MapResult classifies a provider result using its top-level status and the
// description of its latest event.
func (m *Mapper) MapResult(r *carrier.ProviderResult) (carrier.OrderState, bool) {
	raw, desc := r.StatusInputs()
	return m.Resolve(r.Carrier, raw, desc)
}

// Events projects a result's raw events onto the canonical lifecycle,
// ordered by timestamp ascending. The projection is deterministic. Gaps in
// historical events are not reported.
func (m *Mapper) Events(r *carrier.ProviderResult) []carrier.CanonicalEvent {
	if r == nil {
		return nil
	}
	events := make([]carrier.CanonicalEvent, 0, len(r.RawEvents))
	for _, e := range r.RawEvents {
		state, _ := m.resolve(r.Carrier, e.Code, e.Description)
		events = append(events, carrier.CanonicalEvent{
			Timestamp:      e.Timestamp,
			Location:       e.Location,
			State:          state,
			RawDescription: e.Description,
		})
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}
