// Package scheduler triggers background sync passes.
//
// The scheduler waits InitialDelay after Start, then runs every Interval.
// Neither value is configurable. Each tick is skipped quietly while no
// refresh token is stored, so a device that never signed in produces no
// warnings. Missed ticks are dropped rather than replayed.
//
// # Usage Example
//
//	s := scheduler.New(orchestrator, secretStore)
//	go func() {
//	    if err := s.Start(ctx); err != nil {
//	        slog.Error("Scheduler failed", "error", err)
//	    }
//	}()
//	defer s.Stop()
package scheduler
