package shield

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/policy"
)

// RateLimitStage throttles tool calls per agent with a token bucket.
type RateLimitStage struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimitStage creates the stage. burst < 1 is raised to 1.
func NewRateLimitStage(cfg policy.RateLimit) *RateLimitStage {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &RateLimitStage{
		limit:    rate.Limit(cfg.PerSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Name implements policy.Stage.
func (s *RateLimitStage) Name() string { return policy.StageRateLimit }

func (s *RateLimitStage) limiterFor(agentID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[agentID]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[agentID] = l
	}
	return l
}

// Evaluate implements policy.Stage.
func (s *RateLimitStage) Evaluate(_ context.Context, evalCtx policy.EvaluationContext) (policy.Decision, error) {
	if !s.limiterFor(evalCtx.AgentID).Allow() {
		return policy.Block(s.Name(),
			fmt.Sprintf("Rate limit exceeded for agent '%s'", evalCtx.AgentID),
			policy.SeverityMedium), nil
	}
	return policy.Allow(s.Name(), "within rate limit"), nil
}
