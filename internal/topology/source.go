package topology

import (
	"context"
	"fmt"
	"log/slog"
)

// Source retrieves raw inventory from one kind of backend.
type Source interface {
	Kind() SourceKind
	Inventory(ctx context.Context) (RawInventory, error)
}

// SourceConfig selects and configures a Source
type SourceConfig struct {
	UseMock bool

	// live platform
	Host     string
	Username string
	Password string
	Insecure bool
	Root     string

	// mock generator
	MockHosts      int
	MockVMsPerHost int
}

// NewSource builds the source selected by cfg
func NewSource(cfg SourceConfig) (Source, error) {
	if cfg.UseMock {
		slog.Info("Using mock topology source",
			"hosts", cfg.MockHosts,
			"vms_per_host", cfg.MockVMsPerHost,
		)
		return NewMockSource(cfg.MockHosts, cfg.MockVMsPerHost), nil
	}

	src, err := NewVSphereSource(cfg.Host, cfg.Username, cfg.Password, cfg.Root, cfg.Insecure)
	if err != nil {
		return nil, fmt.Errorf("failed to configure vSphere source: %w", err)
	}
	slog.Info("Using vSphere topology source", "host", cfg.Host, "root", cfg.Root)
	return src, nil
}
