// Package catalog holds the static model catalog and its pricing math.
// The catalog is parsed once at startup and never mutated afterwards,
// so lookups are safe from any goroutine.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/plumelit/plume/internal/model"
)

// CreditsPerUSD converts settled USD cost into platform credits. Kept
// high enough that cheap models still cost a whole credit per call.
const CreditsPerUSD = 10000

//go:embed models.json
var modelsJSON []byte

// Model is one priced catalog entry. Prices are USD per 1000 tokens;
// a missing price component parses as 0, which keeps free-tier entries
// representable.
type Model struct {
	ID             string         `json:"id"`
	Provider       model.Provider `json:"provider"`
	DisplayName    string         `json:"display_name"`
	ContextWindowK int            `json:"context_window_k"`
	InputUSDPer1K  float64        `json:"input_usd_per_1k"`
	OutputUSDPer1K float64        `json:"output_usd_per_1k"`
	Available      bool           `json:"available"`
}

// Cost prices a token pair against this entry. Credits round up so the
// platform never undercharges on fractional USD.
func (m Model) Cost(promptTokens, completionTokens int64) (credits int64, usd float64) {
	usd = float64(promptTokens)/1000*m.InputUSDPer1K + float64(completionTokens)/1000*m.OutputUSDPer1K
	credits = int64(math.Ceil(usd * CreditsPerUSD))
	return credits, usd
}

// Catalog is the immutable model registry.
type Catalog struct {
	byID    map[string]Model
	ordered []Model
}

// New parses the embedded catalog.
func New() (*Catalog, error) {
	return Parse(modelsJSON)
}

// NewFromFile parses an operator-supplied catalog file, replacing the
// embedded one entirely.
func NewFromFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a catalog from raw JSON, rejecting duplicate ids,
// unknown providers, and negative prices.
func Parse(data []byte) (*Catalog, error) {
	var entries []Model
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse model catalog: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("model catalog is empty")
	}

	c := &Catalog{
		byID:    make(map[string]Model, len(entries)),
		ordered: entries,
	}
	for _, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("model catalog: entry with empty id")
		}
		if !e.Provider.Valid() {
			return nil, fmt.Errorf("model catalog: model %q has unknown provider %q", e.ID, e.Provider)
		}
		if e.InputUSDPer1K < 0 || e.OutputUSDPer1K < 0 {
			return nil, fmt.Errorf("model catalog: model %q has negative pricing", e.ID)
		}
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("model catalog: duplicate model id %q", e.ID)
		}
		c.byID[e.ID] = e
	}
	return c, nil
}

// Lookup resolves a model id. Unknown ids are a caller error.
func (c *Catalog) Lookup(id string) (Model, error) {
	m, ok := c.byID[id]
	if !ok {
		return Model{}, model.E(model.KindInvalidInput, "unknown model %q", id)
	}
	return m, nil
}

// LookupAvailable resolves a model id and requires it to be executable.
// Retired entries stay in the catalog so historical ledger rows keep
// pricing context, but they cannot be run.
func (c *Catalog) LookupAvailable(id string) (Model, error) {
	m, err := c.Lookup(id)
	if err != nil {
		return Model{}, err
	}
	if !m.Available {
		return Model{}, model.E(model.KindInvalidInput, "model %q is not available", id)
	}
	return m, nil
}

// List returns the catalog in file order. The slice is a copy.
func (c *Catalog) List() []Model {
	out := make([]Model, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Cost prices a token pair for the given model id.
func (c *Catalog) Cost(modelID string, promptTokens, completionTokens int64) (credits int64, usd float64, err error) {
	m, err := c.Lookup(modelID)
	if err != nil {
		return 0, 0, err
	}
	credits, usd = m.Cost(promptTokens, completionTokens)
	return credits, usd, nil
}
