package packet

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legacy300 = `{
	"version": "3.0.0",
	"header": {
		"session_id": "sess-legacy",
		"packet_id": "11111111-2222-3333-4444-555555555555",
		"source": "user"
	},
	"content": {
		"prompt": "hello from the past",
		"data_fields": [
			{"key": "custom_vendor_field", "type": "string", "value": "opaque"}
		]
	}
}`

func TestUpgradeFrom300(t *testing.T) {
	p, err := Deserialize([]byte(legacy300))
	require.NoError(t, err)

	assert.Equal(t, CurrentVersion, p.Version)
	assert.Equal(t, OriginUser, p.Header.Origin)
	assert.Equal(t, "hello from the past", p.Content.OriginalPrompt)
	assert.Equal(t, 4096, p.Context.Constraints.MaxTokens)
	assert.Equal(t, SafetyStandard, p.Context.Constraints.SafetyMode)

	// Unknown data fields survive the migration.
	_, ok := p.Content.Field(DataKey("custom_vendor_field"))
	assert.True(t, ok)
}

func TestUpgradeIdempotent(t *testing.T) {
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(legacy300), &raw))

	once, err := Upgrade(raw)
	require.NoError(t, err)
	onceJSON, err := json.Marshal(once)
	require.NoError(t, err)

	twice, err := Upgrade(once)
	require.NoError(t, err)
	twiceJSON, err := json.Marshal(twice)
	require.NoError(t, err)

	assert.JSONEq(t, string(onceJSON), string(twiceJSON))
}

func TestUpgradeRejectsNewerVersion(t *testing.T) {
	raw := map[string]any{"version": "9.0.0"}
	_, err := Upgrade(raw)
	var ipe *InvalidPacketError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "version", ipe.Field)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"3.0.0", "3.2.0", -1},
		{"3.2.0", "3.2.0", 0},
		{"3.10.0", "3.2.0", 1},
		{"3.2", "3.2.0", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compareVersions(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}
