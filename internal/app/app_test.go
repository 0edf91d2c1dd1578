package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LabelDrop/internal/config"
	"github.com/dharsanguruparan/LabelDrop/internal/ledger"
	"github.com/dharsanguruparan/LabelDrop/internal/logger"
	"github.com/dharsanguruparan/LabelDrop/internal/pairing"
	"github.com/dharsanguruparan/LabelDrop/internal/storage"
)

func TestNew_InProcessBackends(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	ctx := context.Background()

	a, err := New(ctx, cfg, logger.Nop(), "labeldrop-test")
	require.NoError(t, err)
	defer a.Close(ctx)

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Redis)
	assert.IsType(t, &ledger.MemoryLedger{}, a.Ledger)
	assert.Contains(t, a.Registry.Layouts(), "basic")
	require.NotNil(t, a.Pipeline)

	assert.IsType(t, &storage.MemoryStore{}, a.Generations())
	objs, err := a.Objects(ctx)
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryObjects{}, objs)
}

func TestNew_BadTemplatesFile(t *testing.T) {
	t.Setenv("LABELDROP_TEMPLATES_FILE", "/nonexistent/templates.yaml")
	cfg, err := config.Load()
	require.NoError(t, err)
	_, err = New(context.Background(), cfg, logger.Nop(), "labeldrop-test")
	assert.Error(t, err)
}

func TestStores_DatabaseSelectsSharedLedger(t *testing.T) {
	t.Setenv("LABELDROP_DATABASE_URL", "postgres://localhost/labeldrop")
	t.Setenv("LABELDROP_REDIS_ADDR", "localhost:6379")
	cfg, err := config.Load()
	require.NoError(t, err)

	a := &App{Cfg: cfg, Log: logger.Nop()}
	assert.IsType(t, &ledger.PostgresLedger{}, a.ledger())
	assert.IsType(t, &pairing.PostgresCounter{}, a.counter())
}
