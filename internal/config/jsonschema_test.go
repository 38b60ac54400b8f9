package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaJSON(t *testing.T) {
	data, err := SchemaJSON()
	require.NoError(t, err)

	var doc struct {
		Title      string `json:"title"`
		Properties map[string]struct {
			OneOf      []map[string]any `json:"oneOf"`
			Properties map[string]any   `json:"properties"`
		} `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "jitcov configuration", doc.Title)
	require.Contains(t, doc.Properties, "modules")
	assert.Len(t, doc.Properties["modules"].OneOf, 2)
	assert.Contains(t, doc.Properties["report"].Properties, "duckdb")
	assert.Contains(t, doc.Properties["logging"].Properties, "level")
}
