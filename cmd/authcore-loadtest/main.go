// Command authcore-loadtest measures the session hot paths against an
// in-memory store: a validate phase (one read plus one touch per op)
// and a refresh phase (verify, rotate, re-sign). It needs no external
// services; numbers reflect engine overhead, not storage latency.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petstack/authcore"
)

type sessionState struct {
	sessionID string
	refresh   string
	mu        sync.Mutex
}

func main() {
	var (
		sessions    = flag.Int("sessions", 10000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (validate + refresh)")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	cfg := authcore.DevelopmentConfig()
	cfg.Token.AccessSecret = []byte(strings.Repeat("a", 32))
	cfg.Token.RefreshSecret = []byte(strings.Repeat("r", 32))
	cfg.Transport.Secret = "loadtest-transport-secret"
	cfg.Session.MaxConcurrentSessions = 0
	cfg.Session.InactivityTimeout = 0
	cfg.Session.EnableGeolocation = false
	cfg.Metrics.EnableLatencyHistograms = true

	engine, err := authcore.New().
		WithConfig(cfg).
		WithTenant(authcore.Tenant{
			SourceTable:   "users",
			SessionPrefix: "usr",
			Accounts:      noAccounts{},
		}).
		WithSessionRepository(newMemStore()).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]sessionState, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := 0; i < *sessions; i++ {
		grant, err := engine.CreateSession(ctx, authcore.CreateSessionInput{
			UserID:      fmt.Sprintf("user-%d", i),
			Email:       fmt.Sprintf("user-%d@example.com", i),
			Role:        "member",
			SourceTable: "users",
			UserAgent:   "loadtest/1.0",
			IPAddress:   "203.0.113.10",
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = sessionState{
			sessionID: grant.SessionID,
			refresh:   grant.Tokens.RefreshToken,
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runValidatePhase(ctx, engine, states, *ops, *concurrency)
	refreshStats := runRefreshPhase(ctx, engine, states, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)
}

func runValidatePhase(ctx context.Context, engine *authcore.Engine, states []sessionState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(states))
				t0 := time.Now()
				live, err := engine.ValidateSession(ctx, states[idx].sessionID)
				d := time.Since(t0)
				if err != nil || !live {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func runRefreshPhase(ctx context.Context, engine *authcore.Engine, states []sessionState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(states))
				state := &states[idx]

				state.mu.Lock()
				t0 := time.Now()
				pair, err := engine.RefreshSession(ctx, state.refresh)
				d := time.Since(t0)
				if err == nil {
					state.refresh = pair.RefreshToken
				} else {
					atomic.AddInt64(&failures, 1)
				}
				state.mu.Unlock()

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

// noAccounts satisfies the tenant wiring; the load phases never log in.
type noAccounts struct{}

func (noAccounts) FindByEmail(context.Context, string) (*authcore.Account, error) {
	return nil, nil
}

func (noAccounts) FindByID(context.Context, string) (*authcore.Account, error) {
	return nil, nil
}

func (noAccounts) Update(context.Context, string, authcore.AccountPatch) error {
	return nil
}

// memStore is a sharded in-memory session store so the measurement is
// dominated by engine work, not a single lock.
type memStore struct {
	shards [64]memShard
}

type memShard struct {
	mu   sync.RWMutex
	rows map[string]*authcore.Session
}

func newMemStore() *memStore {
	s := &memStore{}
	for i := range s.shards {
		s.shards[i].rows = make(map[string]*authcore.Session)
	}
	return s
}

func (s *memStore) shard(sessionID string) *memShard {
	var h uint32
	for i := 0; i < len(sessionID); i++ {
		h = h*31 + uint32(sessionID[i])
	}
	return &s.shards[h%uint32(len(s.shards))]
}

func (s *memStore) Insert(_ context.Context, session *authcore.Session) error {
	sh := s.shard(session.SessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	copied := *session
	sh.rows[session.SessionID] = &copied
	return nil
}

func (s *memStore) FindBySessionID(_ context.Context, sessionID string) (*authcore.Session, error) {
	sh := s.shard(sessionID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	row, ok := sh.rows[sessionID]
	if !ok {
		return nil, nil
	}
	copied := *row
	return &copied, nil
}

func (s *memStore) FindActiveByRefresh(_ context.Context, sessionID, refreshHash string) (*authcore.Session, error) {
	sh := s.shard(sessionID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	row, ok := sh.rows[sessionID]
	if !ok || !row.IsActive || row.RefreshTokenHash != refreshHash {
		return nil, nil
	}
	copied := *row
	return &copied, nil
}

func (s *memStore) ListActive(_ context.Context, userID, sourceTable string) ([]*authcore.Session, error) {
	var out []*authcore.Session
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, row := range sh.rows {
			if row.IsActive && row.UserID == userID && row.SourceTable == sourceTable {
				copied := *row
				out = append(out, &copied)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (s *memStore) ListActiveByEmail(_ context.Context, email, sourceTable string) ([]*authcore.Session, error) {
	var out []*authcore.Session
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, row := range sh.rows {
			if row.IsActive && strings.EqualFold(row.UserEmail, email) && row.SourceTable == sourceTable {
				copied := *row
				out = append(out, &copied)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (s *memStore) RotateRefresh(_ context.Context, sessionID, refreshHash string, expiresAt, lastActivity time.Time) error {
	sh := s.shard(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	row, ok := sh.rows[sessionID]
	if !ok || !row.IsActive {
		return authcore.ErrSessionNotFound
	}
	row.RefreshTokenHash = refreshHash
	row.ExpiresAt = expiresAt
	row.LastActivity = lastActivity
	return nil
}

func (s *memStore) Touch(_ context.Context, sessionID string, at time.Time) error {
	sh := s.shard(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if row, ok := sh.rows[sessionID]; ok && row.IsActive {
		row.LastActivity = at
	}
	return nil
}

func (s *memStore) Revoke(_ context.Context, sessionID, reason string, at time.Time) (bool, error) {
	sh := s.shard(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	row, ok := sh.rows[sessionID]
	if !ok || !row.IsActive {
		return false, nil
	}
	row.IsActive = false
	revokedAt := at
	row.RevokedAt = &revokedAt
	row.RevokedReason = reason
	return true, nil
}

func (s *memStore) RevokeAll(_ context.Context, userID, sourceTable, reason string, at time.Time) (int64, error) {
	var count int64
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, row := range sh.rows {
			if !row.IsActive || row.UserID != userID {
				continue
			}
			if sourceTable != "" && row.SourceTable != sourceTable {
				continue
			}
			row.IsActive = false
			revokedAt := at
			row.RevokedAt = &revokedAt
			row.RevokedReason = reason
			count++
		}
		sh.mu.Unlock()
	}
	return count, nil
}

func (s *memStore) RevokeExpired(_ context.Context, sourceTable string, now time.Time) (int64, error) {
	var count int64
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, row := range sh.rows {
			if !row.IsActive || !row.ExpiresAt.Before(now) {
				continue
			}
			if sourceTable != "" && row.SourceTable != sourceTable {
				continue
			}
			row.IsActive = false
			revokedAt := now
			row.RevokedAt = &revokedAt
			row.RevokedReason = authcore.ReasonExpired
			count++
		}
		sh.mu.Unlock()
	}
	return count, nil
}

func (s *memStore) CountByTable(_ context.Context) (map[string]authcore.SessionStats, error) {
	stats := make(map[string]authcore.SessionStats)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, row := range sh.rows {
			st := stats[row.SourceTable]
			st.Total++
			if row.IsActive {
				st.Active++
			} else {
				st.Revoked++
			}
			stats[row.SourceTable] = st
		}
		sh.mu.RUnlock()
	}
	return stats, nil
}

func (s *memStore) CountByLocation(_ context.Context, sourceTable string) (map[string]int, error) {
	counts := make(map[string]int)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, row := range sh.rows {
			if !row.IsActive {
				continue
			}
			if sourceTable != "" && row.SourceTable != sourceTable {
				continue
			}
			counts[row.Location]++
		}
		sh.mu.RUnlock()
	}
	return counts, nil
}
