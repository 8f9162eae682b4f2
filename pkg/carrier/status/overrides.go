package status

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"

	"github.com/tournevent/carrierhub/pkg/carrier"
)

type overridesFile struct {
	Carriers map[string]struct {
		Codes map[string]string `yaml:"codes"`
		Rules []struct {
			Contains string `yaml:"contains"`
			State    string `yaml:"state"`
		} `yaml:"rules"`
	} `yaml:"carriers"`
}

// LoadOverrides reads extra mapping entries from a YAML file:
//
//	carriers:
//	  canadapost:
//	    codes:
//	      "1496": DELIVERED
//	    rules:
//	      - contains: "returned to sender"
//	        state: RTO
func LoadOverrides(path string) (map[carrier.Identity]Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading status overrides: %w", err)
	}
	return ParseOverrides(data)
}

// ParseOverrides parses the YAML accepted by LoadOverrides.
func ParseOverrides(data []byte) (map[carrier.Identity]Table, error) {
	var f overridesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing status overrides: %w", err)
	}

	out := make(map[carrier.Identity]Table, len(f.Carriers))
	for name, entry := range f.Carriers {
		id, err := carrier.ParseIdentity(name)
		if err != nil {
			return nil, err
		}
		t := Table{Codes: make(map[string]carrier.OrderState, len(entry.Codes))}
		for code, s := range entry.Codes {
			state, err := carrier.ParseOrderState(s)
			if err != nil {
				return nil, fmt.Errorf("%s code %q: %w", id, code, err)
			}
			t.Codes[normalizeCode(code)] = state
		}
		for _, r := range entry.Rules {
			state, err := carrier.ParseOrderState(r.State)
			if err != nil {
				return nil, fmt.Errorf("%s rule %q: %w", id, r.Contains, err)
			}
			t.Rules = append(t.Rules, Rule{Contains: r.Contains, State: state})
		}
		out[id] = t
	}
	return out, nil
}

// ApplyOverrides extends the mapper with every table in overrides.
func (m *Mapper) ApplyOverrides(overrides map[carrier.Identity]Table) {
	for id, t := range overrides {
		m.Extend(id, t)
	}
}
