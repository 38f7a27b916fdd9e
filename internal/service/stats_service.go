package service

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinel-bridge/pkg/mcp"
)

// StatsService tracks per-session relay statistics using lock-free atomic
// counters. It implements RelayMetrics and is safe for concurrent use from
// both relay directions.
type StatsService struct {
	framesUp      atomic.Int64
	framesDown    atomic.Int64
	parseFailures atomic.Int64
	allowed       atomic.Int64
	blocked       atomic.Int64
	rateLimited   atomic.Int64
	errors        atomic.Int64
	redactions    atomic.Int64

	// Per-stage and per-pattern counters (mutex-protected maps).
	mu            sync.Mutex
	blocksByStage map[string]int64
	byPattern     map[string]int64
}

// NewStatsService creates a new StatsService with all counters initialized to zero.
func NewStatsService() *StatsService {
	return &StatsService{
		blocksByStage: make(map[string]int64),
		byPattern:     make(map[string]int64),
	}
}

// FrameRelayed implements RelayMetrics.
func (s *StatsService) FrameRelayed(dir mcp.Direction) {
	if dir == mcp.ClientToServer {
		s.framesUp.Add(1)
		return
	}
	s.framesDown.Add(1)
}

// FrameParseFailed implements RelayMetrics.
func (s *StatsService) FrameParseFailed(mcp.Direction) {
	s.parseFailures.Add(1)
}

// CallEvaluated implements RelayMetrics. Blocks are counted by CallBlocked.
func (s *StatsService) CallEvaluated(d policy.Decision, _ time.Duration) {
	if !d.Blocked {
		s.allowed.Add(1)
	}
}

// CallBlocked implements RelayMetrics.
func (s *StatsService) CallBlocked(stage string) {
	s.blocked.Add(1)
	if stage == policy.StageRateLimit {
		s.rateLimited.Add(1)
	}
	if stage == "" {
		return
	}
	s.mu.Lock()
	s.blocksByStage[stage]++
	s.mu.Unlock()
}

// GatewayFailed implements RelayMetrics.
func (s *StatsService) GatewayFailed(string) {
	s.errors.Add(1)
}

// FindingRedacted implements RelayMetrics. Empty patterns are counted in
// the total only.
func (s *StatsService) FindingRedacted(pattern string) {
	s.redactions.Add(1)
	if pattern == "" {
		return
	}
	s.mu.Lock()
	s.byPattern[pattern]++
	s.mu.Unlock()
}

// Stats holds a snapshot of all counters at a point in time.
type Stats struct {
	FramesUp      int64            `json:"frames_client_to_server"`
	FramesDown    int64            `json:"frames_server_to_client"`
	ParseFailures int64            `json:"parse_failures"`
	Allowed       int64            `json:"allowed"`
	Blocked       int64            `json:"blocked"`
	RateLimited   int64            `json:"rate_limited"`
	Errors        int64            `json:"gateway_errors"`
	Redactions    int64            `json:"redactions"`
	BlocksByStage map[string]int64 `json:"blocks_by_stage"`
	ByPattern     map[string]int64 `json:"redactions_by_pattern"`
}

// GetStats returns a snapshot of all counters.
// The snapshot is consistent per-counter but not atomically across all counters.
func (s *StatsService) GetStats() Stats {
	s.mu.Lock()
	stages := make(map[string]int64, len(s.blocksByStage))
	for k, v := range s.blocksByStage {
		stages[k] = v
	}
	patterns := make(map[string]int64, len(s.byPattern))
	for k, v := range s.byPattern {
		patterns[k] = v
	}
	s.mu.Unlock()

	return Stats{
		FramesUp:      s.framesUp.Load(),
		FramesDown:    s.framesDown.Load(),
		ParseFailures: s.parseFailures.Load(),
		Allowed:       s.allowed.Load(),
		Blocked:       s.blocked.Load(),
		RateLimited:   s.rateLimited.Load(),
		Errors:        s.errors.Load(),
		Redactions:    s.redactions.Load(),
		BlocksByStage: stages,
		ByPattern:     patterns,
	}
}

// Reset sets all counters to zero.
func (s *StatsService) Reset() {
	for _, c := range []*atomic.Int64{
		&s.framesUp, &s.framesDown, &s.parseFailures, &s.allowed,
		&s.blocked, &s.rateLimited, &s.errors, &s.redactions,
	} {
		c.Store(0)
	}

	s.mu.Lock()
	s.blocksByStage = make(map[string]int64)
	s.byPattern = make(map[string]int64)
	s.mu.Unlock()
}

// MultiRelayMetrics fans every counter out to each member.
type MultiRelayMetrics []RelayMetrics

func (m MultiRelayMetrics) FrameRelayed(dir mcp.Direction) {
	for _, r := range m {
		r.FrameRelayed(dir)
	}
}

func (m MultiRelayMetrics) FrameParseFailed(dir mcp.Direction) {
	for _, r := range m {
		r.FrameParseFailed(dir)
	}
}

func (m MultiRelayMetrics) CallEvaluated(d policy.Decision, latency time.Duration) {
	for _, r := range m {
		r.CallEvaluated(d, latency)
	}
}

func (m MultiRelayMetrics) CallBlocked(stage string) {
	for _, r := range m {
		r.CallBlocked(stage)
	}
}

func (m MultiRelayMetrics) GatewayFailed(op string) {
	for _, r := range m {
		r.GatewayFailed(op)
	}
}

func (m MultiRelayMetrics) FindingRedacted(pattern string) {
	for _, r := range m {
		r.FindingRedacted(pattern)
	}
}

var (
	_ RelayMetrics = (*StatsService)(nil)
	_ RelayMetrics = MultiRelayMetrics(nil)
)
