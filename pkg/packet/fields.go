package packet

import (
	"encoding/json"
	"fmt"
)

// DataKey indexes the closed set of known data field keys. Unknown keys
// pass through serialization untouched so newer services can attach fields
// older services don't understand yet.
type DataKey string

const (
	KeyIdentityExcerpt     DataKey = "identity_excerpt"
	KeyWorldStateSnapshot  DataKey = "world_state_snapshot"
	KeyRetrievedDocuments  DataKey = "retrieved_documents"
	KeySemanticProbeResult DataKey = "semantic_probe_result"
	KeyKnowledgeBaseName   DataKey = "knowledge_base_name"
	KeyDomainKnowledge     DataKey = "domain_knowledge"
	KeyReadOnlyIntent      DataKey = "read_only_intent"
	KeyRAGNoResults        DataKey = "rag_no_results"
	KeyToolSelection       DataKey = "tool_selection"
	KeyLoopRecoveryContext DataKey = "loop_recovery_context"
	KeySessionRAGChunks    DataKey = "session_rag_chunks"
)

// DataField is one entry in the packet's extension surface. Value holds
// the raw JSON so round-trips are lossless regardless of key.
type DataField struct {
	Key   DataKey         `json:"key"`
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// RetrievedDocument is one RAG hit attached to the packet.
type RetrievedDocument struct {
	Filename string  `json:"filename"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
}

// SetField attaches (or replaces) a data field, encoding the value as JSON.
func (c *Content) SetField(key DataKey, typeLabel string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode data field %q: %w", key, err)
	}
	for i := range c.DataFields {
		if c.DataFields[i].Key == key {
			c.DataFields[i].Type = typeLabel
			c.DataFields[i].Value = raw
			return nil
		}
	}
	c.DataFields = append(c.DataFields, DataField{Key: key, Type: typeLabel, Value: raw})
	return nil
}

// Field returns the raw field for key.
func (c *Content) Field(key DataKey) (DataField, bool) {
	for _, f := range c.DataFields {
		if f.Key == key {
			return f, true
		}
	}
	return DataField{}, false
}

// FieldInto decodes the field value into out.
func (c *Content) FieldInto(key DataKey, out any) (bool, error) {
	f, ok := c.Field(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(f.Value, out); err != nil {
		return true, fmt.Errorf("failed to decode data field %q: %w", key, err)
	}
	return true, nil
}

// StringField decodes a string-valued field.
func (c *Content) StringField(key DataKey) (string, bool) {
	var s string
	ok, err := c.FieldInto(key, &s)
	if err != nil || !ok {
		return "", false
	}
	return s, true
}

// BoolField decodes a bool-valued field.
func (c *Content) BoolField(key DataKey) bool {
	var b bool
	ok, err := c.FieldInto(key, &b)
	return err == nil && ok && b
}

// RetrievedDocuments decodes the retrieved_documents field.
func (c *Content) RetrievedDocuments() []RetrievedDocument {
	var docs []RetrievedDocument
	if ok, err := c.FieldInto(KeyRetrievedDocuments, &docs); !ok || err != nil {
		return nil
	}
	return docs
}
