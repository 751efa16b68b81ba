package trader

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"futures-risk-lab/internal/killswitch"
	"futures-risk-lab/internal/logging"
	"futures-risk-lab/internal/storage"
)

// PersistKillSwitch returns a kill switch observer that saves every trip and
// reset, so a restart never re-arms a tripped switch.
func PersistKillSwitch(store storage.KillSwitchStateStore, logger logrus.FieldLogger) func(killswitch.Status) {
	log := logging.OrDiscard(logger)
	return func(s killswitch.Status) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Save(ctx, s); err != nil {
			log.WithError(err).Error("persist kill switch state failed")
		}
	}
}

// RestoreKillSwitch loads the saved state into ks. It reports whether a
// saved state existed.
func RestoreKillSwitch(ctx context.Context, store storage.KillSwitchStateStore, ks *killswitch.KillSwitch) (bool, error) {
	s, ok, err := store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load kill switch state: %w", err)
	}
	if !ok {
		return false, nil
	}
	ks.Restore(s)
	return true, nil
}
