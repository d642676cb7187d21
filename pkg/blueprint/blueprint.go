// Package blueprint implements the service self-description registry.
//
// A blueprint describes one GAIA service: its runtime shape, interfaces,
// dependencies, failure modes and design intent. Blueprints come in two
// epistemic variants sharing one schema: CANDIDATE (prescriptive or freshly
// discovered, under <root>/candidates/) and LIVE (validated, descriptive,
// under <root>/). Only promoted LIVE blueprints are rendered into the
// topology graph. Graph edges are never stored; they are derived from
// interface matching on every topology request.
package blueprint

import "time"

// Status is the epistemic status of a blueprint.
type Status string

const (
	StatusCandidate Status = "CANDIDATE"
	StatusLive      Status = "LIVE"
)

// Severity grades a declared failure mode.
type Severity string

const (
	SeverityDegraded Severity = "degraded"
	SeverityPartial  Severity = "partial"
	SeverityFatal    Severity = "fatal"
)

// Confidence is the author's per-section confidence level.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Runtime describes how the service runs.
type Runtime struct {
	Port         int      `yaml:"port,omitempty" json:"port,omitempty"`
	Image        string   `yaml:"image,omitempty" json:"image,omitempty"`
	GPU          bool     `yaml:"gpu" json:"gpu"`
	Replicas     int      `yaml:"replicas,omitempty" json:"replicas,omitempty"`
	HealthCheck  string   `yaml:"health_check,omitempty" json:"health_check,omitempty"`
	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
}

// ServiceDependency is a dependency on another service.
type ServiceDependency struct {
	Name     string `yaml:"name" json:"name"`
	Required bool   `yaml:"required" json:"required"`
	Fallback string `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// VolumeDependency is a dependency on a mounted volume.
type VolumeDependency struct {
	Name   string `yaml:"name" json:"name"`
	Access string `yaml:"access,omitempty" json:"access,omitempty"`
}

// Dependencies groups a service's external needs.
type Dependencies struct {
	Services     []ServiceDependency `yaml:"services,omitempty" json:"services,omitempty"`
	Volumes      []VolumeDependency  `yaml:"volumes,omitempty" json:"volumes,omitempty"`
	ExternalAPIs []string            `yaml:"external_apis,omitempty" json:"external_apis,omitempty"`
}

// SourceFile declares a file backing the service with its role.
type SourceFile struct {
	Path string `yaml:"path" json:"path"`
	Role string `yaml:"role,omitempty" json:"role,omitempty"`
}

// FailureMode declares a known failure condition and the expected response.
type FailureMode struct {
	Condition string   `yaml:"condition" json:"condition"`
	Response  string   `yaml:"response" json:"response"`
	Severity  Severity `yaml:"severity" json:"severity"`
}

// DesignIntent captures the why behind the service.
type DesignIntent struct {
	Purpose         string   `yaml:"purpose,omitempty" json:"purpose,omitempty"`
	DesignDecisions []string `yaml:"design_decisions,omitempty" json:"design_decisions,omitempty"`
	OpenQuestions   []string `yaml:"open_questions,omitempty" json:"open_questions,omitempty"`
	CognitiveRole   string   `yaml:"cognitive_role,omitempty" json:"cognitive_role,omitempty"`
}

// Component is one internal architecture node.
type Component struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// ArchEdge is one internal architecture edge.
type ArchEdge struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// Architecture describes the service's internal structure.
type Architecture struct {
	Components []Component `yaml:"components,omitempty" json:"components,omitempty"`
	Edges      []ArchEdge  `yaml:"edges,omitempty" json:"edges,omitempty"`
}

// Meta holds blueprint bookkeeping.
type Meta struct {
	Status          Status                `yaml:"status" json:"status"`
	Genesis         bool                  `yaml:"genesis,omitempty" json:"genesis,omitempty"`
	GeneratedBy     string                `yaml:"generated_by,omitempty" json:"generated_by,omitempty"`
	CreatedAt       time.Time             `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt       time.Time             `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
	PromotedAt      *time.Time            `yaml:"promoted_at,omitempty" json:"promoted_at,omitempty"`
	Confidence      map[string]Confidence `yaml:"confidence,omitempty" json:"confidence,omitempty"`
	ReflectionNotes string                `yaml:"reflection_notes,omitempty" json:"reflection_notes,omitempty"`
	DivergenceScore float64               `yaml:"divergence_score,omitempty" json:"divergence_score,omitempty"`
}

// Blueprint is a service self-description.
type Blueprint struct {
	ID            string       `yaml:"id" json:"id"`
	Version       string       `yaml:"version,omitempty" json:"version,omitempty"`
	Role          string       `yaml:"role,omitempty" json:"role,omitempty"`
	ServiceStatus string       `yaml:"service_status,omitempty" json:"service_status,omitempty"`
	Runtime       Runtime      `yaml:"runtime,omitempty" json:"runtime,omitempty"`
	Interfaces    []Interface  `yaml:"interfaces,omitempty" json:"interfaces,omitempty"`
	Dependencies  Dependencies `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	SourceFiles   []SourceFile `yaml:"source_files,omitempty" json:"source_files,omitempty"`
	FailureModes  []FailureMode `yaml:"failure_modes,omitempty" json:"failure_modes,omitempty"`
	Intent        DesignIntent `yaml:"intent,omitempty" json:"intent,omitempty"`
	Architecture  Architecture `yaml:"architecture,omitempty" json:"architecture,omitempty"`
	Meta          Meta         `yaml:"meta" json:"meta"`
}
