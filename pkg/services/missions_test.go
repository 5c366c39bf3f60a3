package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyhound/recongraph/pkg/config"
	"github.com/skyhound/recongraph/pkg/events"
	"github.com/skyhound/recongraph/pkg/models"
	"github.com/skyhound/recongraph/pkg/redact"
	"github.com/skyhound/recongraph/pkg/store"
	testutil "github.com/skyhound/recongraph/test/util"
)

func newTestService(t *testing.T, cfg *config.Config) (*MissionService, *store.MissionStore, *events.Bus) {
	t.Helper()
	db := testutil.SetupTestDatabase(t)
	bus := events.NewBus()
	t.Cleanup(bus.Shutdown)

	if cfg == nil {
		cfg = &config.Config{
			Recon: config.DefaultReconConfig(),
			ROE:   config.DefaultROEConfig(),
		}
	}
	missions := store.NewMissionStore(db)
	graphs := store.NewGraphStore(db, bus, redact.NewRedactor())
	return NewMissionService(missions, graphs, bus, cfg), missions, bus
}

func TestCreate_NormalizesTargetAndScope(t *testing.T) {
	svc, _, bus := newTestService(t, nil)
	ctx := context.Background()

	m, err := svc.Create(ctx, CreateRequest{
		Target: "Colombes.FR.",
		Scope:  []string{"API.colombes.fr", "api.colombes.fr", ""},
	})
	require.NoError(t, err)

	assert.Equal(t, "colombes.fr", m.Target)
	assert.Equal(t, []string{"api.colombes.fr"}, m.Scope, "scope is normalized and deduplicated")
	assert.Equal(t, config.ModeBalanced, m.Mode, "mode defaults from configuration")
	assert.Equal(t, models.StatusQueued, m.Status)

	// Creation publishes a MISSION_STATUS event on the mission stream.
	assert.GreaterOrEqual(t, bus.LatestID(m.ID), int64(1))
}

func TestCreate_RejectsDeniedHost(t *testing.T) {
	cfg := &config.Config{
		Recon: config.DefaultReconConfig(),
		ROE:   &config.ROEConfig{DeniedHosts: []string{"gouv.fr"}},
	}
	svc, _, _ := newTestService(t, cfg)

	_, err := svc.Create(context.Background(), CreateRequest{Target: "impots.gouv.fr"})
	assert.ErrorIs(t, err, ErrTargetDenied)

	_, err = svc.Create(context.Background(), CreateRequest{Target: "colombes.fr"})
	assert.NoError(t, err)
}

func TestCreate_RejectsBareTLDAndPlaceholder(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{Target: "localhost"})
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = svc.Create(ctx, CreateRequest{Target: "www.example.com"})
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = svc.Create(ctx, CreateRequest{Target: ""})
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestCancel_RunningMission(t *testing.T) {
	svc, missions, _ := newTestService(t, nil)
	ctx := context.Background()

	m, err := svc.Create(ctx, CreateRequest{Target: "colombes.fr"})
	require.NoError(t, err)
	require.NoError(t, missions.UpdateStatus(ctx, m.ID, models.StatusRunning))

	cancelled, err := svc.Cancel(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	_, err = svc.Cancel(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestDelete_RequiresTerminalStatus(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	m, err := svc.Create(ctx, CreateRequest{Target: "colombes.fr"})
	require.NoError(t, err)

	err = svc.Delete(ctx, m.ID)
	assert.ErrorIs(t, err, ErrMissionActive)

	_, err = svc.Cancel(ctx, m.ID)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, m.ID))

	_, err = svc.Get(ctx, m.ID)
	assert.ErrorIs(t, err, store.ErrMissionNotFound)
}
