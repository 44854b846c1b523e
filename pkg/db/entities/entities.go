// Package entities names every projected entity kind.
//
// The names double as Postgres table names, as the "entity" field on not-found and orphan
// errors, and as metric label values, so they must stay stable once data has been written.
//
// Usage Example:
//
//	query := fmt.Sprintf("SELECT id FROM %s WHERE circle_id = $1", entities.Rounds.TableName())
//
//	entity, err := entities.FromString(r.URL.Query().Get("entity"))
//	if err != nil {
//	    return fmt.Errorf("invalid entity: %w", err)
//	}
//
// All functions and methods in this package are safe for concurrent use.
package entities

import (
	"fmt"
	"sort"
	"strings"
)

// Entity represents a projected entity kind (circles, rounds, ...).
type Entity string

// When adding a new entity, add it here and to allEntities below.
const (
	// Circles is the circle aggregate keyed by on-chain circle id.
	Circles Entity = "circles"

	// Rounds holds one row per (circle, round number), created in bulk when a circle starts.
	Rounds Entity = "rounds"

	// Accounts is every address the projector has seen. Rows are never deleted.
	Accounts Entity = "accounts"

	// Eligibilities links an invited account to a circle and records whether it joined.
	Eligibilities Entity = "eligibilities"

	// SecurityDeposits is the outstanding collateral per (circle, depositor).
	SecurityDeposits Entity = "security_deposits"

	// ProcessedEvents is the inbox ledger of applied feed entries.
	ProcessedEvents Entity = "processed_events"
)

// allEntities must list every constant above; init panics on malformed names.
var allEntities = []Entity{
	Circles,
	Rounds,
	Accounts,
	Eligibilities,
	SecurityDeposits,
	ProcessedEvents,
}

var entitySet map[Entity]bool

func init() {
	entitySet = make(map[Entity]bool, len(allEntities))
	for _, e := range allEntities {
		if e == "" {
			panic("entities: empty entity name detected in allEntities")
		}
		if strings.ContainsAny(string(e), " -.") {
			panic(fmt.Sprintf("entities: entity name %q is not a valid table identifier", e))
		}
		entitySet[e] = true
	}
}

// String returns the entity name as a string.
func (e Entity) String() string {
	return string(e)
}

// TableName returns the table backing this entity.
func (e Entity) TableName() string {
	return string(e)
}

// Singular returns a human label used in log and error messages ("round", "security deposit").
func (e Entity) Singular() string {
	switch e {
	case Eligibilities:
		return "eligibility"
	case SecurityDeposits:
		return "security deposit"
	case ProcessedEvents:
		return "processed event"
	default:
		return strings.TrimSuffix(string(e), "s")
	}
}

// IsValid returns true if this entity is in the list of known entities.
func (e Entity) IsValid() bool {
	return entitySet[e]
}

// MarshalText implements encoding.TextMarshaler.
func (e Entity) MarshalText() ([]byte, error) {
	return []byte(e), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and rejects unknown names.
func (e *Entity) UnmarshalText(text []byte) error {
	entity := Entity(text)
	if !entity.IsValid() {
		return fmt.Errorf("invalid entity: %q", text)
	}
	*e = entity
	return nil
}

// FromString converts a string to an Entity and validates it.
func FromString(s string) (Entity, error) {
	entity := Entity(s)
	if !entity.IsValid() {
		return "", fmt.Errorf("unknown entity %q, valid entities: %s", s, validEntitiesString())
	}
	return entity, nil
}

// All returns a copy of the entity list in declaration order.
func All() []Entity {
	result := make([]Entity, len(allEntities))
	copy(result, allEntities)
	return result
}

// AllStrings returns all entity names as strings.
func AllStrings() []string {
	result := make([]string, len(allEntities))
	for i, e := range allEntities {
		result[i] = e.String()
	}
	return result
}

// Count returns the number of entities in the system.
func Count() int {
	return len(allEntities)
}

func validEntitiesString() string {
	names := AllStrings()
	sort.Strings(names)
	return strings.Join(names, ", ")
}
