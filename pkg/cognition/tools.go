package cognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/gaia-runtime/gaia/pkg/httpclient"
	"github.com/gaia-runtime/gaia/pkg/packet"
)

// PendingApproval is returned when an MCP server refuses a sensitive
// tool call. The caller must obtain approval and retry with the
// challenge.
type PendingApproval struct {
	ActionID  string `json:"action_id"`
	Challenge string `json:"challenge"`
	Tool      string `json:"tool"`
}

func (p *PendingApproval) Error() string {
	return fmt.Sprintf("tool %q requires approval (action %s)", p.Tool, p.ActionID)
}

// MCPConfig configures the MCP tool router.
type MCPConfig struct {
	Command string            `yaml:"command" mapstructure:"command"`
	Args    []string          `yaml:"args" mapstructure:"args"`
	Env     map[string]string `yaml:"env" mapstructure:"env"`
	Filter  []string          `yaml:"filter" mapstructure:"filter"`
	Timeout time.Duration     `yaml:"timeout" mapstructure:"timeout"`
}

// MCPToolRouter exposes an MCP server's tools to the orchestrator. The
// connection is established lazily on first use.
type MCPToolRouter struct {
	cfg    MCPConfig
	logger *slog.Logger

	mu        sync.Mutex
	client    *client.Client
	tools     []mcp.Tool
	connected bool
}

// NewMCPToolRouter builds a router for a stdio MCP server.
func NewMCPToolRouter(cfg MCPConfig) (*MCPToolRouter, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcp command is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &MCPToolRouter{cfg: cfg, logger: slog.Default()}, nil
}

func (r *MCPToolRouter) connect(ctx context.Context) error {
	if r.connected {
		return nil
	}
	env := make([]string, 0, len(r.cfg.Env))
	for k, v := range r.cfg.Env {
		env = append(env, k+"="+v)
	}
	mcpClient, err := client.NewStdioMCPClient(r.cfg.Command, env, r.cfg.Args...)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "gaia", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	filter := map[string]bool{}
	for _, name := range r.cfg.Filter {
		filter[name] = true
	}
	var tools []mcp.Tool
	for _, t := range listResp.Tools {
		if len(filter) > 0 && !filter[t.Name] {
			continue
		}
		tools = append(tools, t)
	}

	r.client = mcpClient
	r.tools = tools
	r.connected = true
	r.logger.Info("connected to MCP server", "command", r.cfg.Command, "tools", len(tools))
	return nil
}

// Summary renders a one-line capability listing for the prompt builder.
func (r *MCPToolRouter) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.connect(context.Background()); err != nil {
		return ""
	}
	names := make([]string, 0, len(r.tools))
	for _, t := range r.tools {
		names = append(names, t.Name)
	}
	return strings.Join(names, ", ")
}

// Select matches the input against tool names and descriptions.
func (r *MCPToolRouter) Select(ctx context.Context, input string) ([]packet.SelectedTool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.connect(ctx); err != nil {
		return nil, err
	}
	lower := strings.ToLower(input)
	var selected []packet.SelectedTool
	for _, t := range r.tools {
		name := strings.ToLower(strings.ReplaceAll(t.Name, "_", " "))
		if strings.Contains(lower, name) || strings.Contains(lower, strings.ToLower(t.Name)) {
			selected = append(selected, packet.SelectedTool{
				Name:      t.Name,
				Rationale: "name mentioned in request",
			})
		}
	}
	return selected, nil
}

// Execute performs one tool call. A 403-style refusal from the server is
// converted into the approval flow.
func (r *MCPToolRouter) Execute(ctx context.Context, call packet.ToolCall) (packet.ToolExecution, error) {
	r.mu.Lock()
	if err := r.connect(ctx); err != nil {
		r.mu.Unlock()
		return packet.ToolExecution{Name: call.Name, Error: err.Error()}, err
	}
	mcpClient := r.client
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = call.Name
	req.Params.Arguments = call.Arguments

	start := time.Now()
	result, err := mcpClient.CallTool(ctx, req)
	execution := packet.ToolExecution{Name: call.Name, Duration: time.Since(start).Milliseconds()}
	if err != nil {
		if isForbidden(err) {
			pending := &PendingApproval{
				ActionID:  uuid.NewString(),
				Challenge: uuid.NewString(),
				Tool:      call.Name,
			}
			execution.Error = pending.Error()
			return execution, pending
		}
		execution.Error = err.Error()
		return execution, fmt.Errorf("tool call failed: %w", err)
	}

	var sb strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	execution.Output = sb.String()
	if result.IsError {
		execution.Error = execution.Output
		return execution, fmt.Errorf("tool %q reported an error", call.Name)
	}
	return execution, nil
}

// Close shuts the MCP connection down.
func (r *MCPToolRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		err := r.client.Close()
		r.client = nil
		r.connected = false
		return err
	}
	return nil
}

func isForbidden(err error) bool {
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == 403
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "forbidden") || strings.Contains(msg, "403")
}
