package admin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procgate/internal/metadata"
)

func newSchedulerHandler(t *testing.T) (*Handler, *metadata.Registry, *recordingInvalidator) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "functions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(graphYAML), 0o600))

	reg := metadata.NewRegistry()
	inv := &recordingInvalidator{}
	return NewHandler(metadata.FileSource{Path: path}, reg, inv, nil), reg, inv
}

func TestScheduler_TickReloadsAndInvalidatesAll(t *testing.T) {
	h, reg, inv := newSchedulerHandler(t)
	s := NewScheduler(h, time.Minute, nil)

	s.tick(context.Background())
	s.tick(context.Background())

	assert.Equal(t, uint64(2), reg.Snapshot().Version)
	assert.Equal(t, []string{"all", "all"}, inv.calls)
}

func TestScheduler_FailedReloadKeepsSnapshot(t *testing.T) {
	reg := metadata.NewRegistry()
	inv := &recordingInvalidator{}
	h := NewHandler(metadata.FileSource{Path: filepath.Join(t.TempDir(), "missing.yaml")}, reg, inv, nil)

	NewScheduler(h, time.Minute, nil).tick(context.Background())
	assert.Equal(t, uint64(0), reg.Snapshot().Version)
	assert.Empty(t, inv.calls)
}

func TestScheduler_StartStop(t *testing.T) {
	h, reg, inv := newSchedulerHandler(t)
	s := NewScheduler(h, 10*time.Millisecond, nil)

	s.Start()
	assert.Eventually(t, func() bool { return reg.Snapshot().Version >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, len(inv.calls), 2)
	assert.Equal(t, "all", inv.calls[0])
}

func TestScheduler_DisabledIsNoop(t *testing.T) {
	h, reg, _ := newSchedulerHandler(t)
	s := NewScheduler(h, 0, nil)
	s.Start()
	s.Stop()
	assert.Equal(t, uint64(0), reg.Snapshot().Version)
}
