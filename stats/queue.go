package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/emote-tally/snapshot"
	"github.com/onnwee/emote-tally/telemetry"
)

// saveRequest carries one pre-serialized snapshot to the worker. The payload
// is captured under the store lock at enqueue time, so the on-disk file
// always ends up matching the last queued state.
type saveRequest struct {
	payload []byte
	reply   chan error
}

// Save checkpoints the current state. Writes never overlap: requests queue to
// a single worker in FIFO order and each caller observes only its own write's
// outcome. ctx bounds this caller's wait, not the write itself.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.ensureLoadedLocked()
	s.metrics.LastSaveAttempt = time.Now().UnixMilli()
	payload, err := snapshot.Marshal(statsSnapshot{
		Stats:      s.users,
		Metrics:    s.metrics,
		LastUpdate: time.Now().UnixMilli(),
	})
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("marshal stats snapshot: %w", err)
	}
	s.pending++
	s.mu.Unlock()

	req := saveRequest{payload: payload, reply: make(chan error, 1)}
	select {
	case s.queue <- req:
		telemetry.SetSaveQueueDepth(len(s.queue))
	case <-ctx.Done():
		s.mu.Lock()
		s.pending--
		s.mu.Unlock()
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		// The write still completes in the background; only this caller
		// stops waiting for it.
		return ctx.Err()
	}
}

func (s *Store) saveWorker() {
	defer close(s.done)
	for req := range s.queue {
		start := time.Now()
		err := s.writeFn(s.path, req.payload)
		telemetry.SaveDuration.Observe(time.Since(start).Seconds())

		s.mu.Lock()
		s.pending--
		if err != nil {
			s.metrics.FailedSaves++
		} else {
			s.metrics.TotalSaves++
		}
		s.mu.Unlock()

		if err != nil {
			telemetry.SavesFailed.Inc()
			s.log.Error("stats save failed", slog.Any("err", err))
		} else {
			telemetry.SavesSucceeded.Inc()
		}
		telemetry.SetSaveQueueDepth(len(s.queue))
		req.reply <- err
	}
}
