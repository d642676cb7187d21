package fabric

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// SMIStats implements GPUStats by shelling out to nvidia-smi. It sums
// used memory across all devices.
type SMIStats struct {
	// Binary overrides the nvidia-smi path, mainly for tests.
	Binary string
}

func (s *SMIStats) UsedMB(ctx context.Context) (int, error) {
	bin := s.Binary
	if bin == "" {
		bin = "nvidia-smi"
	}
	out, err := exec.CommandContext(ctx, bin,
		"--query-gpu=memory.used", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return 0, fmt.Errorf("nvidia-smi failed: %w", err)
	}
	total := 0
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		mb, err := strconv.Atoi(line)
		if err != nil {
			return 0, fmt.Errorf("unexpected nvidia-smi output %q: %w", line, err)
		}
		total += mb
	}
	return total, nil
}
