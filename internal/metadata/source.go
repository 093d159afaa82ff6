package metadata

import (
	"context"
	"log/slog"

	"procgate/internal/store"
)

// Source produces the configuration graph.
type Source interface {
	Load(ctx context.Context) (*Graph, error)
}

// SQLSource reads the config tables.
type SQLSource struct {
	Querier store.Querier
	Logger  *slog.Logger
}

func (s SQLSource) Load(ctx context.Context) (*Graph, error) {
	return LoadGraph(ctx, s.Querier, s.Logger)
}

// FileSource reads a YAML graph from disk.
type FileSource struct {
	Path string
}

func (s FileSource) Load(context.Context) (*Graph, error) {
	return LoadFile(s.Path)
}

// ReloadFrom loads src and publishes it. On failure the current snapshot
// stays in place.
func ReloadFrom(ctx context.Context, src Source, reg *Registry, logger *slog.Logger) (*Snapshot, error) {
	g, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	return Publish(reg, g, logger), nil
}
