// Package carrier provides the contract every courier integration implements
// and the priority-ordered registry the tracking and booking flows fan out over.
package carrier

import (
	"context"
	"fmt"
	"strings"
)

// Identity names an integrated courier. The set is closed; see All.
type Identity string

const (
	Freightcom Identity = "freightcom"
	CanadaPost Identity = "canadapost"
	Purolator  Identity = "purolator"
)

// All returns every known carrier in the default priority order.
func All() []Identity {
	return []Identity{Freightcom, CanadaPost, Purolator}
}

// Valid reports whether id is one of the integrated carriers.
func (id Identity) Valid() bool {
	switch id {
	case Freightcom, CanadaPost, Purolator:
		return true
	}
	return false
}

func (id Identity) String() string { return string(id) }

// ParseIdentity converts a configuration or request value into an Identity.
func ParseIdentity(s string) (Identity, error) {
	id := Identity(strings.ToLower(strings.TrimSpace(s)))
	if !id.Valid() {
		return "", fmt.Errorf("%w: %q", ErrCarrierNotRegistered, s)
	}
	return id, nil
}

// ParsePriority parses a comma separated priority list, e.g. "canadapost,freightcom".
// Duplicates are ignored after their first occurrence.
func ParsePriority(s string) ([]Identity, error) {
	var out []Identity
	seen := make(map[Identity]bool)
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := ParseIdentity(part)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// Client defines the interface that all carrier integrations must implement.
type Client interface {
	// Name returns the carrier identity.
	Name() Identity

	// Lookup resolves a tracking query. Implementations return ErrUnsupportedQuery
	// when the carrier cannot search by the query's identifier kind. The caller
	// owns the returned result and may modify it, so implementations must not
	// keep or share it.
	Lookup(ctx context.Context, q Query) (*ProviderResult, error)

	// Quote returns the service options the carrier offers for a shipment.
	Quote(ctx context.Context, s *Shipment) ([]ServiceOption, error)

	// Book creates the shipment with the carrier using the chosen service.
	Book(ctx context.Context, s *Shipment, opt ServiceOption) (*BookingResult, error)
}

// EligibilityChecker is implemented by clients that only serve some shipments.
// Clients that do not implement it are considered eligible for everything.
type EligibilityChecker interface {
	Serves(s *Shipment) bool
}
