package stats

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"

	"github.com/onnwee/emote-tally/snapshot"
	"github.com/onnwee/emote-tally/telemetry"
)

// TopUser is one leaderboard entry.
type TopUser struct {
	Username string           `json:"username"`
	Total    int64            `json:"total"`
	Emotes   map[string]int64 `json:"emotes"`
}

// GetUserStats returns a copy of one user's counters.
func (s *Store) GetUserStats(username string) (UserStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()
	u, ok := s.users[username]
	if !ok {
		return UserStats{}, false
	}
	return u.clone(), true
}

// GetUserRank returns the user's 1-based position by descending total and the
// number of tracked users. Tied totals keep an arbitrary but consistent order
// within one call.
func (s *Store) GetUserRank(username string) (rank, tracked int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()
	if _, ok := s.users[username]; !ok {
		return 0, len(s.users), false
	}
	order := s.rankedLocked()
	for i, name := range order {
		if name == username {
			return i + 1, len(order), true
		}
	}
	return 0, len(order), false
}

func (s *Store) rankedLocked() []string {
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	sort.SliceStable(names, func(i, j int) bool {
		return s.users[names[i]].Total > s.users[names[j]].Total
	})
	return names
}

// GetPlatformStats sums the per-platform counters across all users.
func (s *Store) GetPlatformStats() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()
	out := map[string]int64{}
	for _, u := range s.users {
		for p, n := range u.Platforms {
			out[p] += n
		}
	}
	return out
}

// TrackedUsers returns the number of users with any recorded activity.
func (s *Store) TrackedUsers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()
	return len(s.users)
}

// MetricsSnapshot returns a copy of the persisted counters.
func (s *Store) MetricsSnapshot() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()
	return s.metrics
}

// QueueDepth reports saves enqueued or in flight.
func (s *Store) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// TopUsers returns up to n leaderboard entries by descending total.
func (s *Store) TopUsers(n int) []TopUser {
	if n <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()
	order := s.rankedLocked()
	if n > len(order) {
		n = len(order)
	}
	out := make([]TopUser, 0, n)
	for _, name := range order[:n] {
		u := s.users[name]
		out = append(out, TopUser{Username: name, Total: u.Total, Emotes: maps.Clone(u.Emotes)})
	}
	return out
}

// MostUsedEmote returns the code with the highest count, "none" for an empty
// map. The first code encountered at the maximum wins ties.
func MostUsedEmote(emotes map[string]int64) string {
	best := "none"
	var bestN int64
	for code, n := range emotes {
		if n > bestN {
			best, bestN = code, n
		}
	}
	return best
}

// ExportTopUsers writes the top 10 to the export file and refreshes the top
// user line for rank 1. Called on demand and once during shutdown.
func (s *Store) ExportTopUsers() error {
	if s.topUsersPath == "" {
		return nil
	}
	top := s.TopUsers(10)
	if err := snapshot.WriteAtomic(s.topUsersPath, top); err != nil {
		return fmt.Errorf("export top users: %w", err)
	}
	if len(top) > 0 {
		s.writeTopUserFile(top[0].Username, UserStats{Total: top[0].Total, Emotes: top[0].Emotes})
	}
	s.log.Info("top users exported", slog.Int("users", len(top)))
	return nil
}

// Reset wipes all user statistics and metrics, then persists the empty state
// immediately. Destructive; callers gate it behind confirmation.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.users = map[string]*UserStats{}
	s.metrics = Metrics{}
	s.loaded = true
	s.mu.Unlock()
	telemetry.SetTrackedUsers(0)
	s.log.Warn("statistics reset")
	return s.Save(ctx)
}
