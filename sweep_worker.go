package calmscore

import (
	"context"
	"errors"
	"log"
	"time"
)

// startSweepWorker runs a background goroutine that periodically abandons
// sessions with no activity for longer than IdleTimeout.
func (t *Trainer) startSweepWorker(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancelSweep = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				abandoned, err := t.SweepIdle(time.Now())
				if err != nil {
					log.Printf("[calmscore] Idle sweep error: %v", err)
				} else if abandoned > 0 {
					log.Printf("[calmscore] Idle sweep: %d sessions abandoned", abandoned)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// SweepIdle abandons every open session idle since before now-IdleTimeout and
// returns how many were closed.
func (t *Trainer) SweepIdle(now time.Time) (int, error) {
	ids, err := t.store.IdleSessions(now.Add(-t.config.IdleTimeout))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if _, err := t.finish(id, OutcomeAbandoned); err != nil {
			// Ended concurrently by the trainee; not an error for the sweep.
			if errors.Is(err, ErrSessionEnded) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}
