package main

import (
	"encoding/json"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/gaia-runtime/gaia/pkg/config"
)

// SchemaCmd emits a JSON Schema for the configuration file. Output goes
// to stdout so it can be redirected.
type SchemaCmd struct {
	Compact bool `short:"c" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.ID = "https://gaia-runtime.dev/schemas/config.json"
	schema.Title = "GAIA Configuration Schema"
	schema.Description = "Deployment configuration shared by the core, web, study and fabric services"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(schema)
}
