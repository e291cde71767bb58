/*
Package catalog provides JSON to Go conversion for nursery reference data.

PURPOSE:
  Converts JSON size-spec and location definitions into lineage types and
  serves them to the engine. This enables catalog configuration without
  code changes - growers can define container specs and locations in
  JSON, load them at startup, and the engine classifies phases from them.

JSON SCHEMA:
  {
    "size_specs": [
      {"id": "plug-288", "name": "288 plug tray", "container_kind": "tray", "cell_count": 288},
      {"id": "tray-18",  "name": "18-cell tray",  "container_kind": "tray", "cell_count": 18},
      {"id": "pot-9",    "name": "9cm pot",       "container_kind": "pot",  "cell_count": 1}
    ],
    "locations": [
      {"id": "gh-1", "name": "Greenhouse 1"},
      {"id": "field-a", "name": "Field A"}
    ]
  }

KEY FEATURES:
  - Validates JSON structure and container attributes
  - Rejects specs the phase classifier cannot handle, at load time
  - Serves lookups from memory; safe for concurrent readers

USAGE:
  cat, err := catalog.ParseJSON(data)
  // or from a file:
  cat, err := catalog.LoadFile("./config/catalog.json")

  engine := lineage.NewOrchestrator(store, cat, cat, nil, nil)

SEE ALSO:
  - lineage/store.go: SizeSpecCatalog and LocationCatalog contracts
  - lineage/phase.go: The classification the specs feed
*/
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/verdant/batch-engine/lineage"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CatalogJSON is the JSON representation of the full catalog.
type CatalogJSON struct {
	SizeSpecs []SizeSpecJSON `json:"size_specs"`
	Locations []LocationJSON `json:"locations"`
}

// SizeSpecJSON is the JSON representation of one container spec.
type SizeSpecJSON struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContainerKind string `json:"container_kind"`
	CellCount     int    `json:"cell_count"`
}

// LocationJSON is the JSON representation of one location.
type LocationJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// =============================================================================
// STATIC CATALOG - In-memory SizeSpecCatalog + LocationCatalog
// =============================================================================

// Static serves size specs and locations from memory. It implements both
// lineage.SizeSpecCatalog and lineage.LocationCatalog.
type Static struct {
	mu        sync.RWMutex
	specs     map[lineage.SizeSpecID]lineage.SizeSpec
	locations map[lineage.LocationID]string
}

// NewStatic creates an empty catalog.
func NewStatic() *Static {
	return &Static{
		specs:     make(map[lineage.SizeSpecID]lineage.SizeSpec),
		locations: make(map[lineage.LocationID]string),
	}
}

// ParseJSON builds a catalog from a JSON document, validating every spec
// against the phase classifier so bad configs fail at load time rather
// than mid-mutation.
func ParseJSON(data []byte) (*Static, error) {
	var doc CatalogJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}

	c := NewStatic()
	for _, sj := range doc.SizeSpecs {
		if sj.ID == "" {
			return nil, fmt.Errorf("size spec with empty id")
		}
		spec := lineage.SizeSpec{
			ID:            lineage.SizeSpecID(sj.ID),
			Name:          sj.Name,
			ContainerKind: lineage.ContainerKind(sj.ContainerKind),
			CellCount:     sj.CellCount,
		}
		if _, err := lineage.ClassifyPhase(spec); err != nil {
			return nil, fmt.Errorf("size spec %s: %w", sj.ID, err)
		}
		c.AddSizeSpec(spec)
	}
	for _, lj := range doc.Locations {
		if lj.ID == "" {
			return nil, fmt.Errorf("location with empty id")
		}
		c.AddLocation(lineage.LocationID(lj.ID), lj.Name)
	}
	return c, nil
}

// LoadFile reads and parses a catalog JSON file.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseJSON(data)
}

// AddSizeSpec registers (or replaces) a size spec.
func (c *Static) AddSizeSpec(spec lineage.SizeSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.specs[spec.ID] = spec
}

// AddLocation registers (or replaces) a location.
func (c *Static) AddLocation(id lineage.LocationID, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locations[id] = name
}

// GetSizeSpec implements lineage.SizeSpecCatalog.
func (c *Static) GetSizeSpec(_ context.Context, id lineage.SizeSpecID) (*lineage.SizeSpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	spec, ok := c.specs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", lineage.ErrSizeSpecNotFound, id)
	}
	copied := spec
	return &copied, nil
}

// LocationExists implements lineage.LocationCatalog.
func (c *Static) LocationExists(_ context.Context, id lineage.LocationID) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.locations[id]
	return ok, nil
}

// SizeSpecs returns all registered specs.
func (c *Static) SizeSpecs() []lineage.SizeSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()

	specs := make([]lineage.SizeSpec, 0, len(c.specs))
	for _, s := range c.specs {
		specs = append(specs, s)
	}
	return specs
}

// Location is one registered location.
type Location struct {
	ID   lineage.LocationID
	Name string
}

// Locations returns all registered locations.
func (c *Static) Locations() []Location {
	c.mu.RLock()
	defer c.mu.RUnlock()

	locs := make([]Location, 0, len(c.locations))
	for id, name := range c.locations {
		locs = append(locs, Location{ID: id, Name: name})
	}
	return locs
}
