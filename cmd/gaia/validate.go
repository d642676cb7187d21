package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gaia-runtime/gaia/pkg/config"
)

// ValidateCmd checks a configuration file without starting anything.
type ValidateCmd struct {
	Config      string `arg:"" optional:"" name:"config" help:"Configuration file path." placeholder:"PATH"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the expanded configuration (defaults applied, env vars resolved)."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	path := c.Config
	if path == "" {
		path = cli.Config
	}

	cfg, err := config.NewLoader(path).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %s: %v\n", path, err)
		return fmt.Errorf("configuration is invalid")
	}

	if c.PrintConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	}

	fmt.Printf("✓ %s is valid\n", path)
	return nil
}
