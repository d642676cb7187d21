package blueprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(t.TempDir(), WithSourceRoot(t.TempDir()))
	require.NoError(t, err)
	return r
}

func testBlueprint(id string) *Blueprint {
	return &Blueprint{
		ID:      id,
		Version: "1.0",
		Role:    "cognition_core",
		Runtime: Runtime{Port: 8600, GPU: true, HealthCheck: "/health"},
		Interfaces: []Interface{
			{
				ID:        "process-packet",
				Direction: Inbound,
				Transport: Transport{Type: TransportHTTPREST, Path: "/process_packet", Method: "POST"},
			},
		},
		Intent: DesignIntent{Purpose: "runs the cognition pipeline"},
		Meta:   Meta{Status: StatusCandidate, Genesis: true},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	r := newTestRegistry(t)
	bp := testBlueprint("gaia-core")

	require.NoError(t, r.Save(bp, true))

	got, err := r.Load("gaia-core", true)
	require.NoError(t, err)
	assert.Equal(t, bp.ID, got.ID)
	assert.Equal(t, bp.Runtime, got.Runtime)
	assert.Equal(t, bp.Interfaces, got.Interfaces)
	assert.Equal(t, StatusCandidate, got.Meta.Status)
}

func TestSaveWritesDerivedMarkdown(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Save(testBlueprint("gaia-core"), true))

	md, err := os.ReadFile(filepath.Join(r.root, "candidates", "gaia-core.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "# gaia-core")
	assert.Contains(t, string(md), "do not edit")
}

func TestSaveDirectoryIsAuthoritative(t *testing.T) {
	r := newTestRegistry(t)

	// Non-LIVE into live directory fails.
	bp := testBlueprint("gaia-core")
	assert.Error(t, r.Save(bp, false))

	// LIVE into candidates directory silently downgrades.
	bp.Meta.Status = StatusLive
	require.NoError(t, r.Save(bp, true))
	got, err := r.Load("gaia-core", true)
	require.NoError(t, err)
	assert.Equal(t, StatusCandidate, got.Meta.Status)
}

func TestValidateCandidateIDMismatch(t *testing.T) {
	r := newTestRegistry(t)
	bp := testBlueprint("wrong-id")
	// Write under a different filename than the embedded id.
	data := "id: wrong-id\nmeta:\n  status: CANDIDATE\n"
	require.NoError(t, os.WriteFile(r.path("gaia-test", true), []byte(data), 0o644))
	_ = bp

	result, err := r.ValidateCandidate("gaia-test")
	require.NoError(t, err)
	assert.False(t, result.Passed)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "does not match")

	_, err = r.Promote("gaia-test", true)
	assert.Error(t, err)
}

func TestValidateMissingSourceFile(t *testing.T) {
	r := newTestRegistry(t)
	bp := testBlueprint("gaia-core")
	bp.SourceFiles = []SourceFile{{Path: "does/not/exist.go", Role: "entry"}}
	require.NoError(t, r.Save(bp, true))

	result, err := r.ValidateCandidate("gaia-core")
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Errors[0], "does not exist")
}

func TestValidateWarnings(t *testing.T) {
	r := newTestRegistry(t)
	bp := testBlueprint("gaia-core")
	bp.Interfaces = nil
	bp.Intent = DesignIntent{}
	bp.Meta.Confidence = map[string]Confidence{"runtime": ConfidenceLow}
	require.NoError(t, r.Save(bp, true))

	result, err := r.ValidateCandidate("gaia-core")
	require.NoError(t, err)
	assert.True(t, result.Passed, "warnings alone do not fail validation")
	assert.Len(t, result.Warnings, 3)
}

func TestPromoteBootstrap(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Save(testBlueprint("gaia-core"), true))

	bp, err := r.Promote("gaia-core", true)
	require.NoError(t, err)
	assert.Equal(t, StatusLive, bp.Meta.Status)
	require.NotNil(t, bp.Meta.PromotedAt)

	live, err := r.Load("gaia-core", false)
	require.NoError(t, err)
	assert.Equal(t, StatusLive, live.Meta.Status)
}

func TestPromoteNonBootstrapRequiresLiveFile(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Save(testBlueprint("gaia-core"), true))

	// No discovered live file yet: promotion must fail.
	_, err := r.Promote("gaia-core", false)
	assert.Error(t, err)

	// With a discovered live file, promotion flips status and stamps
	// promoted_at.
	discovered := testBlueprint("gaia-core")
	discovered.Meta.Status = StatusLive
	discovered.Meta.Genesis = true
	require.NoError(t, r.Save(discovered, false))

	bp, err := r.Promote("gaia-core", false)
	require.NoError(t, err)
	assert.Equal(t, StatusLive, bp.Meta.Status)
	assert.False(t, bp.Meta.Genesis)
	assert.NotNil(t, bp.Meta.PromotedAt)
}

func TestLoadAllSkipsCorrupt(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Save(testBlueprint("good"), true))
	require.NoError(t, os.WriteFile(r.path("bad", true), []byte("{{{not yaml"), 0o644))

	bps, err := r.LoadAllCandidates()
	require.NoError(t, err)
	require.Len(t, bps, 1)
	assert.Equal(t, "good", bps[0].ID)
}

func TestLoadMissing(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Load("nope", false)
	assert.ErrorIs(t, err, ErrNotFound)
}
