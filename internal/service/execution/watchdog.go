package execution

import (
	"context"
	"time"

	"github.com/plumelit/plume/internal/model"
)

// staleExecutionMessage is written onto every execution the watchdog
// expires. Clients can tell an expiry apart from a provider failure.
const staleExecutionMessage = "execution exceeded the stale threshold and was expired"

// RunWatchdog sweeps executions stuck in running until ctx is canceled.
// A request that died between the deduction and its terminal transition
// leaves a running row; the sweep fails it and refunds whatever the
// ledger shows as outstanding, in one transaction, so a crashed sweep
// simply retries on the next tick.
func (s *Service) RunWatchdog(ctx context.Context, interval, staleAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("execution watchdog started", "interval", interval, "stale_after", staleAfter)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("execution watchdog stopped")
			return
		case <-ticker.C:
			n, err := s.SweepStale(ctx, staleAfter)
			if err != nil {
				s.logger.Error("watchdog sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Warn("watchdog expired stale executions", "count", n)
			}
		}
	}
}

// SweepStale expires every running execution older than staleAfter and
// returns how many it transitioned. Rows that reach a terminal state
// between the listing and the expiry are skipped.
func (s *Service) SweepStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	stale, err := s.db.StaleRunningExecutions(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, exec := range stale {
		ok, err := s.db.ExpireExecution(ctx, exec.ID, staleExecutionMessage)
		if err != nil {
			s.logger.Error("could not expire stale execution", "execution_id", exec.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		expired++

		msg := staleExecutionMessage
		exec.Status = model.ExecutionFailed
		exec.ErrorMessage = &msg
		exec.UpdatedAt = time.Now().UTC()
		s.notify(exec)

		s.logger.Warn("expired stale execution",
			"execution_id", exec.ID,
			"model", exec.Model,
			"age", time.Since(exec.CreatedAt).Round(time.Second))
	}
	return expired, nil
}
