package engine

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pricelens/harvest/internal/proxy"
	"github.com/pricelens/harvest/pkg/types"
)

// optimisticRate is assumed for untested (domain, strategy) pairs so
// cheap strategies get tried before the stats exist to justify them.
const optimisticRate = 0.8

// statLatencyAlpha is the EWMA weight for attempt latency.
const statLatencyAlpha = 0.1

// StrategyStat is the learned record for one (domain, strategy) pair.
type StrategyStat struct {
	Domain        string             `json:"domain"`
	Strategy      types.StrategyName `json:"strategy"`
	Attempts      int                `json:"attempts"`
	Successes     int                `json:"successes"`
	AvgLatency    time.Duration      `json:"avg_latency"`
	LastOutcomeAt time.Time          `json:"last_outcome_at"`
}

// SuccessRate is successes over attempts; untested pairs report the
// optimistic default.
func (s StrategyStat) SuccessRate() float64 {
	if s.Attempts == 0 {
		return optimisticRate
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// StatsBook owns all strategy statistics behind one lock.
type StatsBook struct {
	mu    sync.Mutex
	stats map[string]*StrategyStat
}

// NewStatsBook creates an empty book.
func NewStatsBook() *StatsBook {
	return &StatsBook{stats: make(map[string]*StrategyStat)}
}

func statKey(domain string, strategy types.StrategyName) string {
	return domain + "|" + string(strategy)
}

// RecordOutcome updates the pair's attempt counters and latency EWMA.
// Attempts grow monotonically and successes never exceed them.
func (b *StatsBook) RecordOutcome(domain string, strategy types.StrategyName, success bool, latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := statKey(domain, strategy)
	stat, ok := b.stats[key]
	if !ok {
		stat = &StrategyStat{Domain: domain, Strategy: strategy}
		b.stats[key] = stat
	}

	stat.Attempts++
	if success {
		stat.Successes++
	}
	if latency > 0 {
		if stat.AvgLatency == 0 {
			stat.AvgLatency = latency
		} else {
			stat.AvgLatency = time.Duration(
				(1-statLatencyAlpha)*float64(stat.AvgLatency) + statLatencyAlpha*float64(latency))
		}
	}
	stat.LastOutcomeAt = time.Now()
}

// Score ranks a strategy for a domain: successRate / costTier, so a
// cheap strategy wins unless its record is poor.
func (b *StatsBook) Score(domain string, strategy types.StrategyName) float64 {
	return b.successRate(domain, strategy) / float64(strategy.Tier())
}

func (b *StatsBook) successRate(domain string, strategy types.StrategyName) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if stat, ok := b.stats[statKey(domain, strategy)]; ok {
		return stat.SuccessRate()
	}
	return optimisticRate
}

// Get returns a copy of the pair's stat, or a zero-attempt stat if the
// pair is untested.
func (b *StatsBook) Get(domain string, strategy types.StrategyName) StrategyStat {
	b.mu.Lock()
	defer b.mu.Unlock()
	if stat, ok := b.stats[statKey(domain, strategy)]; ok {
		return *stat
	}
	return StrategyStat{Domain: domain, Strategy: strategy}
}

// statsStoreKey is where SaveTo persists the snapshot.
const statsStoreKey = "harvest:strategy_stats"

// SaveTo writes the current snapshot to the KV store. The in-memory
// book stays authoritative; this exists so learned scores survive a
// restart.
func (b *StatsBook) SaveTo(ctx context.Context, store proxy.Store) error {
	data, err := json.Marshal(b.Snapshot())
	if err != nil {
		return err
	}
	return store.Set(ctx, statsStoreKey, string(data))
}

// LoadFrom warm-starts the book from a previously saved snapshot. An
// absent snapshot is not an error.
func (b *StatsBook) LoadFrom(ctx context.Context, store proxy.Store) error {
	raw, err := store.Get(ctx, statsStoreKey)
	if err != nil || raw == "" {
		return err
	}
	var snap []StrategyStat
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range snap {
		stat := snap[i]
		b.stats[statKey(stat.Domain, stat.Strategy)] = &stat
	}
	return nil
}

// Snapshot returns all stats ordered by domain then strategy tier.
func (b *StatsBook) Snapshot() []StrategyStat {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]StrategyStat, 0, len(b.stats))
	for _, stat := range b.stats {
		out = append(out, *stat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		return out[i].Strategy.Tier() < out[j].Strategy.Tier()
	})
	return out
}
