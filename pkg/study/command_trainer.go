package study

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// CommandTrainer shells out to an external fine-tune backend. Samples
// are handed over as a JSONL file; the backend reports on stdout, one
// line per event:
//
//	progress 0.42
//	result {"adapter_path":"...","steps":100,"final_loss":0.8}
//
// Anything else on stdout is ignored. A missing result line is an
// error even when the process exits zero.
type CommandTrainer struct {
	// Command is the trainer executable plus fixed leading arguments.
	Command []string
	// WorkDir is where sample files and adapters are written.
	WorkDir string
}

// NewCommandTrainer builds a trainer rooted at dir.
func NewCommandTrainer(command []string, dir string) (*CommandTrainer, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("trainer command is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trainer directory: %w", err)
	}
	return &CommandTrainer{Command: command, WorkDir: dir}, nil
}

// Train writes the sample file, runs the backend and streams its
// progress reports into the provided callback.
func (t *CommandTrainer) Train(ctx context.Context, cfg TrainingConfig, samples []TrainingSample, progress func(float64)) (TrainResult, error) {
	samplePath, err := t.writeSamples(cfg.AdapterName, samples)
	if err != nil {
		return TrainResult{}, err
	}
	defer os.Remove(samplePath)

	args := append(append([]string{}, t.Command[1:]...),
		"--samples", samplePath,
		"--adapter", cfg.AdapterName,
		"--output-dir", t.WorkDir,
		"--max-steps", strconv.Itoa(cfg.MaxSteps),
	)
	cmd := exec.CommandContext(ctx, t.Command[0], args...)
	cmd.Dir = t.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return TrainResult{}, fmt.Errorf("failed to attach to trainer stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return TrainResult{}, fmt.Errorf("failed to start trainer: %w", err)
	}

	var result *TrainResult
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		field, rest, ok := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		if !ok {
			continue
		}
		switch field {
		case "progress":
			if v, err := strconv.ParseFloat(rest, 64); err == nil && progress != nil {
				progress(v)
			}
		case "result":
			var r TrainResult
			if err := json.Unmarshal([]byte(rest), &r); err == nil {
				result = &r
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		return TrainResult{}, fmt.Errorf("trainer failed: %w", err)
	}
	if result == nil {
		return TrainResult{}, fmt.Errorf("trainer exited without reporting a result")
	}
	return *result, nil
}

func (t *CommandTrainer) writeSamples(adapter string, samples []TrainingSample) (string, error) {
	file, err := os.CreateTemp(t.WorkDir, "samples-"+adapter+"-*.jsonl")
	if err != nil {
		return "", fmt.Errorf("failed to create sample file: %w", err)
	}
	enc := json.NewEncoder(file)
	for _, s := range samples {
		if err := enc.Encode(s); err != nil {
			file.Close()
			os.Remove(file.Name())
			return "", fmt.Errorf("failed to write sample file: %w", err)
		}
	}
	if err := file.Close(); err != nil {
		return "", err
	}
	return filepath.Clean(file.Name()), nil
}
