package catalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumelit/plume/internal/catalog"
	"github.com/plumelit/plume/internal/model"
)

func TestNew_EmbeddedCatalog(t *testing.T) {
	c, err := catalog.New()
	require.NoError(t, err)

	models := c.List()
	require.NotEmpty(t, models)

	byProvider := map[model.Provider]int{}
	for _, m := range models {
		require.True(t, m.Provider.Valid(), "model %s", m.ID)
		byProvider[m.Provider]++
	}
	assert.Positive(t, byProvider[model.ProviderOpenAI])
	assert.Positive(t, byProvider[model.ProviderAnthropic])
}

func TestNewFromFile_ReplacesEmbeddedCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.json")
	data := `[{"id":"local-llm","provider":"openai","display_name":"Local",
		"context_window_k":32,"input_usd_per_1k":0.001,"output_usd_per_1k":0.002,
		"available":true}]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	c, err := catalog.NewFromFile(path)
	require.NoError(t, err)
	require.Len(t, c.List(), 1)

	_, err = c.Lookup("gpt-4o")
	assert.Error(t, err, "embedded entries are gone when a file is supplied")

	_, err = catalog.NewFromFile(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestCost_RoundsUpToWholeCredits(t *testing.T) {
	c, err := catalog.New()
	require.NoError(t, err)

	// gpt-4o-mini: 0.00015 in / 0.0006 out per 1k tokens.
	credits, usd, err := c.Cost("gpt-4o-mini", 1000, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 0.00075, usd, 1e-9)
	assert.Equal(t, int64(8), credits, "7.5 raw credits round up")

	// Zero usage prices to zero; no minimum charge.
	credits, usd, err = c.Cost("gpt-4o-mini", 0, 0)
	require.NoError(t, err)
	assert.Zero(t, usd)
	assert.Zero(t, credits)
}

func TestCost_UnknownModel(t *testing.T) {
	c, err := catalog.New()
	require.NoError(t, err)

	_, _, err = c.Cost("gpt-99", 10, 10)
	assert.Equal(t, model.KindInvalidInput, model.KindOf(err))
}

func TestLookupAvailable_RejectsRetiredModels(t *testing.T) {
	c, err := catalog.New()
	require.NoError(t, err)

	// Retired entries stay resolvable for pricing history.
	m, err := c.Lookup("gpt-3.5-turbo")
	require.NoError(t, err)
	assert.False(t, m.Available)

	_, err = c.LookupAvailable("gpt-3.5-turbo")
	assert.Equal(t, model.KindInvalidInput, model.KindOf(err))

	_, err = c.LookupAvailable("gpt-4o")
	assert.NoError(t, err)
}

func TestParse_RejectsBadCatalogs(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"empty list", `[]`},
		{"missing id", `[{"provider":"openai","available":true}]`},
		{"unknown provider", `[{"id":"m","provider":"acme","available":true}]`},
		{"negative price", `[{"id":"m","provider":"openai","input_usd_per_1k":-1,"available":true}]`},
		{"duplicate id", `[{"id":"m","provider":"openai"},{"id":"m","provider":"openai"}]`},
		{"not json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := catalog.Parse([]byte(tc.data))
			assert.Error(t, err)
		})
	}
}

func TestModelCost_MissingPricesDefaultToFree(t *testing.T) {
	c, err := catalog.Parse([]byte(`[{"id":"free-model","provider":"openai","available":true}]`))
	require.NoError(t, err)

	credits, usd, err := c.Cost("free-model", 5000, 5000)
	require.NoError(t, err)
	assert.Zero(t, credits)
	assert.Zero(t, usd)
}
