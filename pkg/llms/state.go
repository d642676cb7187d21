package llms

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/gaia-runtime/gaia/pkg/httpclient"
)

// SlotStateManager snapshots and restores an engine's KV-cache state
// through the llama.cpp server slot endpoints. The engine persists
// snapshots under its own slot directory, so only the base name of the
// requested path is sent; unique snapshot filenames keep save/restore
// pairs unambiguous.
type SlotStateManager struct {
	host   string
	slot   int
	client *httpclient.Client
}

// NewSlotStateManager targets slot 0 of the engine at host.
func NewSlotStateManager(host string, client *httpclient.Client) *SlotStateManager {
	if client == nil {
		client = httpclient.New()
	}
	return &SlotStateManager{host: host, client: client}
}

type slotStateRequest struct {
	Filename string `json:"filename"`
}

func (m *SlotStateManager) SaveState(ctx context.Context, path string) error {
	if err := m.act(ctx, "save", path); err != nil {
		return fmt.Errorf("failed to save engine state: %w", err)
	}
	return nil
}

func (m *SlotStateManager) LoadState(ctx context.Context, path string) error {
	if err := m.act(ctx, "restore", path); err != nil {
		return fmt.Errorf("failed to restore engine state: %w", err)
	}
	return nil
}

func (m *SlotStateManager) act(ctx context.Context, action, path string) error {
	url := fmt.Sprintf("%s/slots/%d?action=%s", m.host, m.slot, action)
	return m.client.PostJSON(ctx, url, slotStateRequest{Filename: filepath.Base(path)}, nil)
}
