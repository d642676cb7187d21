package packet

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// InvalidPacketError reports a malformed packet, naming the offending
// field. The caller decides whether to drop, repair, or surface it.
type InvalidPacketError struct {
	Field  string
	Reason string
}

func (e *InvalidPacketError) Error() string {
	return fmt.Sprintf("invalid packet: field %q: %s", e.Field, e.Reason)
}

// Deserialize parses a serialized packet, upgrading from prior schema
// versions when needed.
func Deserialize(data []byte) (*CognitionPacket, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &InvalidPacketError{Field: "(root)", Reason: err.Error()}
	}

	raw, err := Upgrade(raw)
	if err != nil {
		return nil, err
	}

	upgraded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode upgraded packet: %w", err)
	}

	p := &CognitionPacket{}
	if err := json.Unmarshal(upgraded, p); err != nil {
		return nil, &InvalidPacketError{Field: "(root)", Reason: err.Error()}
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *CognitionPacket) validate() error {
	if p.Header.PacketID == "" {
		return &InvalidPacketError{Field: "header.packet_id", Reason: "missing"}
	}
	if p.Header.SessionID == "" {
		return &InvalidPacketError{Field: "header.session_id", Reason: "missing"}
	}
	if p.Status.State != "" {
		if _, ok := allowedTransitions[p.Status.State]; !ok {
			return &InvalidPacketError{Field: "status.state", Reason: fmt.Sprintf("unknown state %q", p.Status.State)}
		}
	}
	if c := p.Intent.Confidence; c < 0 || c > 1 {
		return &InvalidPacketError{Field: "intent.confidence", Reason: "out of range [0, 1]"}
	}
	return nil
}

// Upgrade migrates a raw packet map to the current schema version.
// Unknown data_fields are preserved. Upgrading an already-current packet
// is a no-op apart from normalising the version string, so the function
// is idempotent.
func Upgrade(raw map[string]any) (map[string]any, error) {
	version, _ := raw["version"].(string)
	if version == "" {
		version = "3.0.0"
	}
	if compareVersions(version, CurrentVersion) > 0 {
		return nil, &InvalidPacketError{
			Field:  "version",
			Reason: fmt.Sprintf("packet version %s is newer than supported %s", version, CurrentVersion),
		}
	}

	if compareVersions(version, "3.1.0") < 0 {
		upgradeTo310(raw)
	}
	if compareVersions(version, "3.2.0") < 0 {
		upgradeTo320(raw)
	}
	raw["version"] = CurrentVersion
	return raw, nil
}

// upgradeTo310 renames header.source to header.origin and defaults it.
func upgradeTo310(raw map[string]any) {
	header, ok := raw["header"].(map[string]any)
	if !ok {
		header = map[string]any{}
		raw["header"] = header
	}
	if src, ok := header["source"]; ok {
		if _, present := header["origin"]; !present {
			header["origin"] = src
		}
		delete(header, "source")
	}
	if _, ok := header["origin"]; !ok {
		header["origin"] = string(OriginUser)
	}
}

// upgradeTo320 moves content.prompt to content.original_prompt and fills
// in constraint defaults introduced with 3.2.
func upgradeTo320(raw map[string]any) {
	content, ok := raw["content"].(map[string]any)
	if !ok {
		content = map[string]any{}
		raw["content"] = content
	}
	if prompt, ok := content["prompt"]; ok {
		if _, present := content["original_prompt"]; !present {
			content["original_prompt"] = prompt
		}
		delete(content, "prompt")
	}

	pctx, ok := raw["context"].(map[string]any)
	if !ok {
		pctx = map[string]any{}
		raw["context"] = pctx
	}
	constraints, ok := pctx["constraints"].(map[string]any)
	if !ok {
		constraints = map[string]any{}
		pctx["constraints"] = constraints
	}
	if _, ok := constraints["max_tokens"]; !ok {
		constraints["max_tokens"] = 4096
	}
	if _, ok := constraints["safety_mode"]; !ok {
		constraints["safety_mode"] = string(SafetyStandard)
	}
}

// compareVersions compares dotted numeric versions: -1, 0, or 1.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
