package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-risk-lab/internal/killswitch"
)

func TestKillSwitchStateStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "agent.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)
	store := NewKillSwitchStateStore(db)

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, killswitch.Status{
		Triggered:   true,
		Reason:      killswitch.ReasonReconciliationFailed,
		TriggeredAt: &at,
		Context:     map[string]any{"discrepancies": 2.0},
	}))
	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	st, ok, err := NewKillSwitchStateStore(db).Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, st.Triggered)
	assert.Equal(t, killswitch.ReasonReconciliationFailed, st.Reason)
	assert.True(t, at.Equal(*st.TriggeredAt))
	assert.Equal(t, 2.0, st.Context["discrepancies"])
}

func TestKillSwitchStateStore_Overwrites(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	store := NewKillSwitchStateStore(db)
	require.NoError(t, store.Save(ctx, killswitch.Status{Triggered: true, Reason: killswitch.ReasonManualTrigger}))
	require.NoError(t, store.Save(ctx, killswitch.Status{Triggered: false}))

	st, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, st.Triggered)
	assert.Empty(t, st.Reason)
}
