package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nerfbot-server-go/internal/domain/gun"
	"nerfbot-server-go/internal/platform/storage"
	testhelpers "nerfbot-server-go/internal/platform/testing"
)

func TestSystemConfigLoadDefaults(t *testing.T) {
	repo := NewSystemConfig(testhelpers.NewTestDB(t), gun.DefaultGunConfig())

	cfg, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, gun.DefaultGunConfig(), cfg)
}

func TestSystemConfigOverlayAndSave(t *testing.T) {
	ctx := context.Background()
	db := testhelpers.NewTestDB(t)
	repo := NewSystemConfig(db, gun.DefaultGunConfig())

	require.NoError(t, db.Create(&[]storage.SystemConfig{
		{ConfigKey: KeyMaxHorizontal, ConfigValue: "30"},
		{ConfigKey: KeyHomeY, ConfigValue: " 12 "},
		{ConfigKey: KeyGunActive, ConfigValue: "0"},
		{ConfigKey: KeyMinVertical, ConfigValue: "not-a-number"},
	}).Error)

	cfg, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.MaxHorizontal)
	assert.Equal(t, 12, cfg.HomeY)
	assert.False(t, cfg.Active)
	assert.Equal(t, 0, cfg.MinVertical, "unparsable rows keep the default")

	cfg.HorizontalOffset = -3
	cfg.Active = true
	require.NoError(t, repo.Save(ctx, cfg))

	reloaded, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg, reloaded)

	require.NoError(t, repo.SetActive(ctx, false))
	reloaded, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.False(t, reloaded.Active)
	assert.Equal(t, -3, reloaded.HorizontalOffset)
}
