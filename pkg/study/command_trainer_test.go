package study

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTrainerParsesProgressAndResult(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "trainer.sh")
	require.NoError(t, os.WriteFile(script, []byte(`#!/bin/sh
echo "starting up"
echo "progress 0.25"
echo "progress 0.75"
echo 'result {"adapter_path":"out/alpha","steps":42,"final_loss":0.81}'
`), 0o755))

	trainer, err := NewCommandTrainer([]string{"/bin/sh", script}, dir)
	require.NoError(t, err)

	var seen []float64
	result, err := trainer.Train(context.Background(), TrainingConfig{AdapterName: "alpha", MaxSteps: 42},
		[]TrainingSample{{Instruction: "Recall", Output: "fact"}},
		func(p float64) { seen = append(seen, p) })
	require.NoError(t, err)

	assert.Equal(t, []float64{0.25, 0.75}, seen)
	assert.Equal(t, "out/alpha", result.AdapterPath)
	assert.Equal(t, 42, result.Steps)
	assert.InDelta(t, 0.81, result.FinalLoss, 1e-9)
}

func TestCommandTrainerRequiresResultLine(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "trainer.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"progress 1.0\"\n"), 0o755))

	trainer, err := NewCommandTrainer([]string{"/bin/sh", script}, dir)
	require.NoError(t, err)

	_, err = trainer.Train(context.Background(), TrainingConfig{AdapterName: "beta"}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without reporting a result")
}

func TestCommandTrainerRejectsEmptyCommand(t *testing.T) {
	_, err := NewCommandTrainer(nil, t.TempDir())
	require.Error(t, err)
}
