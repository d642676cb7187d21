package fabric

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gaia-runtime/gaia/pkg/httpclient"
)

// ServiceSpec describes one managed service.
type ServiceSpec struct {
	Name      string `yaml:"name" mapstructure:"name"`
	Container string `yaml:"container" mapstructure:"container"`
	HealthURL string `yaml:"health_url" mapstructure:"health_url"`
}

// ServiceStatus is the probed state of one service.
type ServiceStatus struct {
	Name      string `json:"name"`
	Container string `json:"container"`
	Running   bool   `json:"running"`
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
}

// RuntimeInspector answers questions about the container runtime and can
// restart containers with extra environment. Implementations wrap the
// docker CLI or API; tests substitute fakes.
type RuntimeInspector interface {
	IsRunning(ctx context.Context, container string) (bool, error)
	RestartWithEnv(ctx context.Context, container string, env map[string]string) error
}

// ContainerMonitor probes service health over HTTP and container state
// through the runtime inspector.
type ContainerMonitor struct {
	services  []ServiceSpec
	client    *httpclient.Client
	inspector RuntimeInspector
	logger    *slog.Logger
}

// NewContainerMonitor builds a monitor. inspector may be nil, in which
// case container state reports as unknown-but-running when the health
// probe succeeds.
func NewContainerMonitor(services []ServiceSpec, client *httpclient.Client, inspector RuntimeInspector) *ContainerMonitor {
	if client == nil {
		client = httpclient.New(httpclient.WithTimeout(5 * time.Second))
	}
	return &ContainerMonitor{
		services:  services,
		client:    client,
		inspector: inspector,
		logger:    slog.Default(),
	}
}

// Status probes all services concurrently and returns their states in
// the configured order.
func (m *ContainerMonitor) Status(ctx context.Context) []ServiceStatus {
	out := make([]ServiceStatus, len(m.services))
	var wg sync.WaitGroup
	for i, spec := range m.services {
		wg.Add(1)
		go func(i int, spec ServiceSpec) {
			defer wg.Done()
			out[i] = m.probe(ctx, spec)
		}(i, spec)
	}
	wg.Wait()
	return out
}

func (m *ContainerMonitor) probe(ctx context.Context, spec ServiceSpec) ServiceStatus {
	status := ServiceStatus{Name: spec.Name, Container: spec.Container}

	if m.inspector != nil && spec.Container != "" {
		running, err := m.inspector.IsRunning(ctx, spec.Container)
		if err != nil {
			status.Detail = fmt.Sprintf("inspect failed: %v", err)
		} else {
			status.Running = running
		}
	}

	if spec.HealthURL != "" {
		if err := m.client.GetJSON(ctx, spec.HealthURL, nil); err != nil {
			if status.Detail == "" {
				status.Detail = err.Error()
			}
		} else {
			status.Healthy = true
			if m.inspector == nil {
				status.Running = true
			}
		}
	}
	return status
}

// Inject restarts a service's container with extra environment variables
// applied. The service must be one of the configured specs.
func (m *ContainerMonitor) Inject(ctx context.Context, service string, env map[string]string) error {
	if m.inspector == nil {
		return fmt.Errorf("no runtime inspector configured")
	}
	for _, spec := range m.services {
		if spec.Name != service {
			continue
		}
		if spec.Container == "" {
			return fmt.Errorf("service %s has no container", service)
		}
		m.logger.Info("injecting environment and restarting", "service", service, "container", spec.Container, "vars", len(env))
		if err := m.inspector.RestartWithEnv(ctx, spec.Container, env); err != nil {
			return fmt.Errorf("restart of %s failed: %w", spec.Container, err)
		}
		return nil
	}
	return fmt.Errorf("unknown service: %s", service)
}
