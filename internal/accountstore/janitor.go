package accountstore

import (
	"github.com/robfig/cron/v3"

	"github.com/relaycore/dispatch-proxy/internal/utils"
)

// Janitor periodically sweeps expired rate-limit cooldowns so that
// dashboard reads (outside the hot dispatch path) see fresh state without
// waiting for the next request to lazily clear it.
type Janitor struct {
	cron *cron.Cron
}

// StartJanitor schedules a once-a-minute expired-cooldown sweep against the
// given store. Call Stop to end it during graceful shutdown.
func StartJanitor(store *Store) *Janitor {
	c := cron.New()
	_, err := c.AddFunc("@every 1m", func() {
		store.ClearExpiredLimits()
		utils.Debug("[accountstore] cleared expired rate-limit cooldowns")
	})
	if err != nil {
		utils.Error("[accountstore] failed to schedule janitor: %v", err)
	}
	c.Start()
	return &Janitor{cron: c}
}

// Stop halts the janitor's schedule.
func (j *Janitor) Stop() {
	j.cron.Stop()
}
