// Package config loads the single YAML configuration file shared by all
// GAIA services: parse to a map, expand environment variables, decode
// with mapstructure, apply defaults, validate.
package config

import (
	"fmt"
	"time"

	"github.com/gaia-runtime/gaia/pkg/cognition"
	"github.com/gaia-runtime/gaia/pkg/fabric"
	"github.com/gaia-runtime/gaia/pkg/gateway"
	"github.com/gaia-runtime/gaia/pkg/heartbeat"
	"github.com/gaia-runtime/gaia/pkg/intent"
	"github.com/gaia-runtime/gaia/pkg/llms"
	"github.com/gaia-runtime/gaia/pkg/observability"
	"github.com/gaia-runtime/gaia/pkg/observer"
	"github.com/gaia-runtime/gaia/pkg/probe"
	"github.com/gaia-runtime/gaia/pkg/prompt"
	"github.com/gaia-runtime/gaia/pkg/study"
)

// ModelConfig describes one LLM endpoint. Type selects the provider
// implementation.
type ModelConfig struct {
	Type     string `yaml:"type" mapstructure:"type"`
	Host     string `yaml:"host" mapstructure:"host"`
	Model    string `yaml:"model" mapstructure:"model"`
	APIKey   string `yaml:"api_key" mapstructure:"api_key"`
	Timeout  int    `yaml:"timeout" mapstructure:"timeout"`
	Thinking bool   `yaml:"thinking" mapstructure:"thinking"`
}

// EmbedderConfig describes the embedding endpoint.
type EmbedderConfig struct {
	Type      string `yaml:"type" mapstructure:"type"`
	Host      string `yaml:"host" mapstructure:"host"`
	Model     string `yaml:"model" mapstructure:"model"`
	Dimension int    `yaml:"dimension" mapstructure:"dimension"`
	Timeout   int    `yaml:"timeout" mapstructure:"timeout"`
}

// ServiceConfig is one service's listen address.
type ServiceConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

func (s ServiceConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ServicesConfig lists all four services.
type ServicesConfig struct {
	Core   ServiceConfig `yaml:"core" mapstructure:"core"`
	Web    ServiceConfig `yaml:"web" mapstructure:"web"`
	Study  ServiceConfig `yaml:"study" mapstructure:"study"`
	Fabric ServiceConfig `yaml:"fabric" mapstructure:"fabric"`
}

// VectorConfig locates the knowledge bases on disk. KnowledgeBases maps
// base name to its document directory.
type VectorConfig struct {
	Root           string            `yaml:"root" mapstructure:"root"`
	KnowledgeBases map[string]string `yaml:"knowledge_bases" mapstructure:"knowledge_bases"`
}

// SessionConfig locates the conversation store.
type SessionConfig struct {
	DBPath string `yaml:"db_path" mapstructure:"db_path"`
}

// StudyConfig bundles the study worker settings.
type StudyConfig struct {
	Root         string           `yaml:"root" mapstructure:"root"`
	Governance   study.Governance `yaml:"governance" mapstructure:"governance"`
	WatchDocs    bool             `yaml:"watch_docs" mapstructure:"watch_docs"`
	TrainCommand []string         `yaml:"train_command" mapstructure:"train_command"`
}

// FabricConfig bundles the fabric settings.
type FabricConfig struct {
	Handoff     fabric.HandoffConfig `yaml:"handoff" mapstructure:"handoff"`
	Services    []fabric.ServiceSpec `yaml:"services" mapstructure:"services"`
	ComposeFile string               `yaml:"compose_file" mapstructure:"compose_file"`
}

// HeartbeatConfig extends the scheduler config with the store root.
type HeartbeatConfig struct {
	heartbeat.Config `yaml:",inline" mapstructure:",squash"`
	Root             string `yaml:"root" mapstructure:"root"`
	Enabled          bool   `yaml:"enabled" mapstructure:"enabled"`
}

// Config is the whole deployment configuration.
type Config struct {
	Models      map[string]ModelConfig     `yaml:"models" mapstructure:"models"`
	Embedder    EmbedderConfig             `yaml:"embedder" mapstructure:"embedder"`
	Constraints llms.Constraints `yaml:"generation_constraints" mapstructure:"generation_constraints"`
	Vector      VectorConfig               `yaml:"vector" mapstructure:"vector"`
	Probe       probe.Config               `yaml:"semantic_probe" mapstructure:"semantic_probe"`
	Intent      intent.Config              `yaml:"intent" mapstructure:"intent"`
	Prompt      prompt.Config              `yaml:"prompt" mapstructure:"prompt"`
	Observer    observer.Config            `yaml:"observer" mapstructure:"observer"`
	Cognition   cognition.Config           `yaml:"cognition" mapstructure:"cognition"`
	Session     SessionConfig              `yaml:"session" mapstructure:"session"`
	Heartbeat   HeartbeatConfig            `yaml:"heartbeat" mapstructure:"heartbeat"`
	Study       StudyConfig                `yaml:"study" mapstructure:"study"`
	Fabric      FabricConfig               `yaml:"fabric" mapstructure:"fabric"`
	Gateway     gateway.Config             `yaml:"gateway" mapstructure:"gateway"`
	MCP         cognition.MCPConfig        `yaml:"mcp" mapstructure:"mcp"`
	Services    ServicesConfig             `yaml:"services" mapstructure:"services"`
	Observability observability.Config     `yaml:"observability" mapstructure:"observability"`
}

var validModelRoles = map[string]bool{"prime": true, "lite": true, "observer": true}

// SetDefaults fills in everything the file omits.
func (c *Config) SetDefaults() {
	if c.Models == nil {
		c.Models = make(map[string]ModelConfig)
	}
	if c.Constraints == (llms.Constraints{}) {
		c.Constraints = llms.DefaultConstraints()
	}
	if c.Vector.Root == "" {
		c.Vector.Root = "./data/indexes"
	}
	if c.Session.DBPath == "" {
		c.Session.DBPath = "./data/sessions.db"
	}
	if c.Heartbeat.Root == "" {
		c.Heartbeat.Root = "./data/heartbeat"
	}
	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = 1200 * time.Second
	}
	if c.Study.Root == "" {
		c.Study.Root = "./data/study"
	}
	if c.Study.Governance == (study.Governance{}) {
		c.Study.Governance = study.DefaultGovernance()
	}
	if c.Services.Core.Port == 0 {
		c.Services.Core = ServiceConfig{Host: "127.0.0.1", Port: 8601}
	}
	if c.Services.Web.Port == 0 {
		c.Services.Web = ServiceConfig{Host: "127.0.0.1", Port: 8602}
	}
	if c.Services.Study.Port == 0 {
		c.Services.Study = ServiceConfig{Host: "127.0.0.1", Port: 8603}
	}
	if c.Services.Fabric.Port == 0 {
		c.Services.Fabric = ServiceConfig{Host: "127.0.0.1", Port: 8604}
	}
	if c.Gateway.CoreURL == "" {
		c.Gateway.CoreURL = "http://" + c.Services.Core.Addr()
	}
	if c.Fabric.Handoff.CoreURL == "" {
		c.Fabric.Handoff.CoreURL = "http://" + c.Services.Core.Addr()
	}
	if c.Fabric.Handoff.StudyURL == "" {
		c.Fabric.Handoff.StudyURL = "http://" + c.Services.Study.Addr()
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	for role, m := range c.Models {
		if !validModelRoles[role] {
			return fmt.Errorf("unknown model role %q (want prime, lite or observer)", role)
		}
		switch m.Type {
		case "", "ollama", "openai":
		default:
			return fmt.Errorf("model %s: unknown provider type %q", role, m.Type)
		}
		if m.Model == "" {
			return fmt.Errorf("model %s: model name is required", role)
		}
	}
	if c.Probe.SimilarityThreshold < 0 || c.Probe.SimilarityThreshold > 1 {
		return fmt.Errorf("semantic_probe.similarity_threshold must be in [0,1]")
	}
	if mode := c.Observer.Mode; mode != "" && mode != "block" && mode != "explain" && mode != "warn" {
		return fmt.Errorf("observer.mode must be block, explain or warn")
	}
	return nil
}
