package packet

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPacket(t *testing.T) *CognitionPacket {
	t.Helper()
	p := New(Options{
		SessionID:   "sess-1",
		Prompt:      "what is the Jade Phoenix Order?",
		Origin:      OriginUser,
		Destination: DestWeb,
		Persona:     Persona{IdentityID: "gaia", PersonaID: "default", Role: RolePrime},
	})
	require.NoError(t, p.Content.SetField(KeyKnowledgeBaseName, "string", "lore"))
	return p
}

func TestSerializeRoundTrip(t *testing.T) {
	p := newTestPacket(t)
	require.NoError(t, p.ComputeHashes())

	data, err := p.Serialize()
	require.NoError(t, err)

	got, err := Deserialize(data)
	require.NoError(t, err)

	data2, err := got.Serialize()
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(data2))
}

func TestComputeHashesDeterministic(t *testing.T) {
	p := newTestPacket(t)

	require.NoError(t, p.ComputeHashes())
	first := p.Governance.Signatures.ContentHash

	require.NoError(t, p.ComputeHashes())
	assert.Equal(t, first, p.Governance.Signatures.ContentHash)
}

func TestHashExcludesPostHashFields(t *testing.T) {
	p := newTestPacket(t)
	require.NoError(t, p.ComputeHashes())
	digest := p.Governance.Signatures.ContentHash

	// Audit trail and observer trace are post-hash: appending them must
	// not invalidate the stamped digest.
	p.AddAudit("core", "dispatched")
	p.AddObserverTrace(42, "CAUTION", "slow start")

	ok, err := p.VerifyHash()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, digest, p.Governance.Signatures.ContentHash)

	// Content changes do invalidate it.
	p.Content.OriginalPrompt = "something else"
	ok, err = p.VerifyHash()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStateTransitions(t *testing.T) {
	p := newTestPacket(t)

	require.NoError(t, p.Advance(StateDispatched))
	require.NoError(t, p.Advance(StateGenerating))
	require.NoError(t, p.Advance(StateFinalized))
	assert.True(t, p.Status.Finalized)

	// Terminal state: no further transitions.
	assert.Error(t, p.Advance(StateGenerating))

	q := newTestPacket(t)
	assert.Error(t, q.Advance(StateFinalized), "initialized cannot jump to finalized")
	assert.Error(t, q.Advance(StateGenerating), "initialized cannot jump to generating")
}

func TestSubPacket(t *testing.T) {
	p := newTestPacket(t)
	sub := p.NewSubPacket("reflect on the last answer")

	assert.Equal(t, p.Header.PacketID, sub.Header.PacketID)
	assert.Equal(t, p.Header.SessionID, sub.Header.SessionID)
	assert.NotEmpty(t, sub.Header.SubID)
	assert.Equal(t, OriginSystem, sub.Header.Origin)
}

func TestDataFieldAccessors(t *testing.T) {
	p := newTestPacket(t)

	require.NoError(t, p.Content.SetField(KeyReadOnlyIntent, "bool", true))
	assert.True(t, p.Content.BoolField(KeyReadOnlyIntent))

	kb, ok := p.Content.StringField(KeyKnowledgeBaseName)
	require.True(t, ok)
	assert.Equal(t, "lore", kb)

	docs := []RetrievedDocument{{Filename: "a.md", Text: "alpha", Score: 0.9}}
	require.NoError(t, p.Content.SetField(KeyRetrievedDocuments, "documents", docs))
	assert.Equal(t, docs, p.Content.RetrievedDocuments())

	// Replacing an existing key must not grow the list.
	n := len(p.Content.DataFields)
	require.NoError(t, p.Content.SetField(KeyReadOnlyIntent, "bool", false))
	assert.Len(t, p.Content.DataFields, n)
	assert.False(t, p.Content.BoolField(KeyReadOnlyIntent))
}

func TestDeserializeInvalid(t *testing.T) {
	_, err := Deserialize([]byte(`{"version":"3.2.0","header":{"session_id":"s"}}`))
	var ipe *InvalidPacketError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "header.packet_id", ipe.Field)

	_, err = Deserialize([]byte(`not json`))
	require.ErrorAs(t, err, &ipe)
}

func TestUnknownDataFieldsPreserved(t *testing.T) {
	p := newTestPacket(t)
	raw, err := p.Serialize()
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	content := m["content"].(map[string]any)
	fields := content["data_fields"].([]any)
	fields = append(fields, map[string]any{
		"key":   "future_extension",
		"type":  "string",
		"value": "kept",
	})
	content["data_fields"] = fields
	mutated, err := json.Marshal(m)
	require.NoError(t, err)

	got, err := Deserialize(mutated)
	require.NoError(t, err)
	f, ok := got.Content.Field(DataKey("future_extension"))
	require.True(t, ok)
	assert.Equal(t, "string", f.Type)
}
