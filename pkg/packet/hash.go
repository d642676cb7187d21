package packet

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// ComputeHashes produces the content digest covering all fields except
// those designated post-hash (the audit trail, observer trace, and the
// signature block itself). The digest is deterministic given identical
// field values: struct fields marshal in declaration order and map keys
// are sorted by encoding/json.
func (p *CognitionPacket) ComputeHashes() error {
	digest, err := p.contentDigest()
	if err != nil {
		return err
	}
	p.Governance.Signatures = Signatures{
		ContentHash: digest,
		HashedAt:    time.Now().UTC(),
	}
	return nil
}

// VerifyHash recomputes the digest and compares it with the stamped one.
func (p *CognitionPacket) VerifyHash() (bool, error) {
	if p.Governance.Signatures.ContentHash == "" {
		return false, nil
	}
	digest, err := p.contentDigest()
	if err != nil {
		return false, err
	}
	return digest == p.Governance.Signatures.ContentHash, nil
}

func (p *CognitionPacket) contentDigest() (string, error) {
	// Hash a shallow copy with the post-hash fields zeroed so that audit
	// appends after a boundary crossing don't invalidate the digest.
	shadow := *p
	shadow.Governance.Signatures = Signatures{}
	shadow.Governance.Audit = nil
	shadow.Status.ObserverTrace = nil

	data, err := json.Marshal(&shadow)
	if err != nil {
		return "", fmt.Errorf("failed to hash packet %s: %w", p.Header.PacketID, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
