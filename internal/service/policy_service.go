// Package service contains application services.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	celeval "github.com/Sentinel-Gate/sentinel-bridge/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/policy"
)

// CompiledRule represents a pre-compiled policy rule ready for evaluation.
type CompiledRule struct {
	ID        string
	Name      string
	Priority  int
	ToolMatch string
	Condition *celeval.Condition
	Action    policy.Action
	Reason    string
	Severity  policy.Severity
}

// RuleIndex provides O(1) lookup for exact tool matches.
type RuleIndex struct {
	Exact    map[string][]CompiledRule // "read_file" -> rules for exact match
	Wildcard []CompiledRule            // "*" or glob patterns, evaluated in priority order
}

// CompiledRulesSnapshot is the immutable snapshot stored in atomic.Value.
type CompiledRulesSnapshot struct {
	Rules []CompiledRule
	Index *RuleIndex
	// Cacheable is false when a rule reads request_time, since the same
	// call can then produce different decisions over time.
	Cacheable bool
}

// lruEntry is a doubly-linked list node for the LRU cache.
type lruEntry struct {
	key      uint64
	decision policy.Decision
	prev     *lruEntry
	next     *lruEntry
}

// ResultCache provides bounded LRU caching for CEL evaluation results.
// Thread-safe with Mutex (both Get and Put mutate LRU order).
type ResultCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry // most recently used
	tail    *lruEntry // least recently used
	maxSize int
}

// NewResultCache creates a new LRU cache with the given max size.
func NewResultCache(maxSize int) *ResultCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &ResultCache{
		entries: make(map[uint64]*lruEntry, maxSize),
		maxSize: maxSize,
	}
}

// Get retrieves a cached decision and promotes it to most recently used.
func (c *ResultCache) Get(key uint64) (policy.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.decision, true
	}
	return policy.Decision{}, false
}

// Put stores a decision, evicting the least recently used entry at capacity.
func (c *ResultCache) Put(key uint64, decision policy.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.decision = decision
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &lruEntry{key: key, decision: decision}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Clear empties the cache. Called on reload.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*lruEntry, c.maxSize)
	c.head = nil
	c.tail = nil
}

// Size returns current cache size.
func (c *ResultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResultCache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *ResultCache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *ResultCache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *ResultCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

// computeCacheKey hashes everything a rule can condition on except time.
// encoding/json sorts map keys, so the argument encoding is deterministic.
func computeCacheKey(toolName, agentID string, roles []string, args map[string]interface{}) uint64 {
	h := xxhash.New()

	_, _ = h.WriteString(toolName)
	_, _ = h.Write([]byte{0})

	_, _ = h.WriteString(agentID)
	_, _ = h.Write([]byte{0})

	sortedRoles := make([]string, len(roles))
	copy(sortedRoles, roles)
	sort.Strings(sortedRoles)
	_, _ = h.WriteString(strings.Join(sortedRoles, ","))
	_, _ = h.Write([]byte{0})

	if len(args) > 0 {
		argsJSON, _ := json.Marshal(args)
		_, _ = h.Write(argsJSON)
	}

	return h.Sum64()
}

// PolicyService implements policy.PolicyEngine with CEL-based rule evaluation.
// Rules are compiled at load time and evaluated in priority order (highest
// first); the first rule whose glob and condition match decides. With no match
// the call is allowed. Reads are lock-free through atomic.Value.
type PolicyService struct {
	evaluator *celeval.Evaluator
	snapshot  atomic.Value // stores *CompiledRulesSnapshot
	mu        sync.Mutex   // only for Reload writes
	cache     *ResultCache
	logger    *slog.Logger
}

// PolicyServiceOption configures PolicyService.
type PolicyServiceOption func(*PolicyService)

// WithCacheSize sets the maximum number of cached decisions.
func WithCacheSize(size int) PolicyServiceOption {
	return func(s *PolicyService) {
		s.cache = NewResultCache(size)
	}
}

// NewPolicyService compiles rules and returns a ready engine. Any rule that
// fails to compile is an error.
func NewPolicyService(rules []policy.Rule, logger *slog.Logger, opts ...PolicyServiceOption) (*PolicyService, error) {
	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	s := &PolicyService{
		evaluator: evaluator,
		cache:     NewResultCache(1000),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	snapshot, err := s.buildSnapshot(rules)
	if err != nil {
		return nil, err
	}
	s.snapshot.Store(snapshot)

	logger.Info("policy rules compiled",
		"rules_compiled", len(snapshot.Rules),
		"exact_patterns", len(snapshot.Index.Exact),
		"wildcard_patterns", len(snapshot.Index.Wildcard),
		"cacheable", snapshot.Cacheable,
	)

	return s, nil
}

// ValidateRules checks that every rule condition is a valid expression.
func (s *PolicyService) ValidateRules(rules []policy.Rule) error {
	for _, rule := range rules {
		if rule.Condition == "" {
			continue
		}
		if err := s.evaluator.ValidateExpression(rule.Condition); err != nil {
			return fmt.Errorf("rule %q: %w", ruleLabel(rule), err)
		}
	}
	return nil
}

func ruleLabel(rule policy.Rule) string {
	if rule.ID != "" {
		return rule.ID
	}
	return rule.Name
}

func (s *PolicyService) buildSnapshot(rules []policy.Rule) (*CompiledRulesSnapshot, error) {
	if err := s.ValidateRules(rules); err != nil {
		return nil, err
	}
	compiled, err := s.compileRules(rules)
	if err != nil {
		return nil, err
	}

	cacheable := true
	for _, r := range rules {
		if strings.Contains(r.Condition, "request_time") {
			cacheable = false
			break
		}
	}

	return &CompiledRulesSnapshot{
		Rules:     compiled,
		Index:     s.buildIndex(compiled),
		Cacheable: cacheable,
	}, nil
}

// compileRules compiles CEL expressions and sorts rules by priority.
func (s *PolicyService) compileRules(rules []policy.Rule) ([]CompiledRule, error) {
	compiled := make([]CompiledRule, 0, len(rules))

	for _, rule := range rules {
		condition := rule.Condition
		if condition == "" {
			condition = "true"
		}
		prg, err := s.evaluator.Compile(condition)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule %s: %w", ruleLabel(rule), err)
		}

		toolMatch := rule.ToolMatch
		if toolMatch == "" {
			toolMatch = "*"
		}
		if _, err := filepath.Match(toolMatch, ""); err != nil {
			return nil, fmt.Errorf("rule %s: invalid tool_match %q: %w", ruleLabel(rule), toolMatch, err)
		}

		compiled = append(compiled, CompiledRule{
			ID:        ruleLabel(rule),
			Name:      rule.Name,
			Priority:  rule.Priority,
			ToolMatch: toolMatch,
			Condition: prg,
			Action:    rule.Action,
			Reason:    rule.Reason,
			Severity:  rule.Severity,
		})
	}

	// Stable so equal priorities keep file order.
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority > compiled[j].Priority
	})

	return compiled, nil
}

// buildIndex creates a RuleIndex from compiled rules for O(1) exact match lookup.
func (s *PolicyService) buildIndex(rules []CompiledRule) *RuleIndex {
	idx := &RuleIndex{
		Exact: make(map[string][]CompiledRule),
	}
	// rules is already sorted, so appending keeps each bucket sorted.
	for _, rule := range rules {
		if strings.ContainsAny(rule.ToolMatch, "*?[") {
			idx.Wildcard = append(idx.Wildcard, rule)
		} else {
			idx.Exact[rule.ToolMatch] = append(idx.Exact[rule.ToolMatch], rule)
		}
	}
	return idx
}

func (s *PolicyService) loadSnapshot() *CompiledRulesSnapshot {
	return s.snapshot.Load().(*CompiledRulesSnapshot)
}

// getCandidateRules merges exact matches with wildcards in priority order.
func (s *PolicyService) getCandidateRules(idx *RuleIndex, toolName string) []CompiledRule {
	exact := idx.Exact[toolName]

	if len(exact) == 0 {
		return idx.Wildcard
	}
	if len(idx.Wildcard) == 0 {
		return exact
	}

	merged := make([]CompiledRule, 0, len(exact)+len(idx.Wildcard))
	i, j := 0, 0
	for i < len(exact) && j < len(idx.Wildcard) {
		if exact[i].Priority >= idx.Wildcard[j].Priority {
			merged = append(merged, exact[i])
			i++
		} else {
			merged = append(merged, idx.Wildcard[j])
			j++
		}
	}
	merged = append(merged, exact[i:]...)
	merged = append(merged, idx.Wildcard[j:]...)
	return merged
}

// Evaluate evaluates a tool call against the compiled rules.
func (s *PolicyService) Evaluate(ctx context.Context, evalCtx policy.EvaluationContext) (policy.Decision, error) {
	snapshot := s.loadSnapshot()

	var cacheKey uint64
	if snapshot.Cacheable {
		cacheKey = computeCacheKey(evalCtx.ToolName, evalCtx.AgentID, evalCtx.AgentRoles, evalCtx.ToolArguments)
		if decision, ok := s.cache.Get(cacheKey); ok {
			return decision, nil
		}
	}

	decision, err := s.evaluate(ctx, snapshot, evalCtx)
	if err != nil {
		return policy.Decision{}, err
	}
	if snapshot.Cacheable {
		s.cache.Put(cacheKey, decision)
	}
	return decision, nil
}

func (s *PolicyService) evaluate(ctx context.Context, snapshot *CompiledRulesSnapshot, evalCtx policy.EvaluationContext) (policy.Decision, error) {
	for _, rule := range s.getCandidateRules(snapshot.Index, evalCtx.ToolName) {
		// A lone "*" matches any name, including ones with "/" that
		// filepath.Match would reject.
		if rule.ToolMatch != "*" && strings.ContainsAny(rule.ToolMatch, "*?[") {
			matched, err := filepath.Match(rule.ToolMatch, evalCtx.ToolName)
			if err != nil || !matched {
				continue
			}
		}

		result, err := rule.Condition.Matches(ctx, evalCtx)
		if err != nil {
			return policy.Decision{}, fmt.Errorf("rule %s evaluation failed: %w", rule.ID, err)
		}
		if !result {
			continue
		}

		var decision policy.Decision
		if rule.Action == policy.ActionAllow {
			decision = policy.Allow(policy.StagePolicy, fmt.Sprintf("matched rule %s", rule.ID))
		} else {
			reason := rule.Reason
			if reason == "" {
				reason = fmt.Sprintf("blocked by rule %s", rule.ID)
			}
			sev := rule.Severity
			if sev == "" {
				sev = policy.SeverityHigh
			}
			decision = policy.Block(policy.StagePolicy, reason, sev)
		}
		if rule.Severity != "" {
			decision.Severity = rule.Severity
		}
		decision.RuleID = rule.ID
		return decision, nil
	}

	return policy.Allow(policy.StagePolicy, "no matching rule (default allow)"), nil
}

// Reload recompiles rules and swaps them in atomically. On error the
// previous rules stay active.
func (s *PolicyService) Reload(rules []policy.Rule) error {
	snapshot, err := s.buildSnapshot(rules)
	if err != nil {
		return fmt.Errorf("failed to compile rules: %w", err)
	}

	s.mu.Lock()
	s.snapshot.Store(snapshot)
	s.mu.Unlock()

	s.cache.Clear()

	s.logger.Info("policy rules reloaded",
		"rules_compiled", len(snapshot.Rules),
		"exact_patterns", len(snapshot.Index.Exact),
		"wildcard_patterns", len(snapshot.Index.Wildcard),
	)
	return nil
}

// DefaultRules returns the built-in rules used when the policy file
// declares none.
func DefaultRules() []policy.Rule {
	return []policy.Rule{
		{
			ID:        "block-delete",
			Name:      "Block destructive deletes",
			Priority:  200,
			ToolMatch: "delete_*",
			Condition: "true",
			Action:    policy.ActionBlock,
			Reason:    "destructive operation",
			Severity:  policy.SeverityHigh,
		},
		{
			ID:        "block-exec",
			Name:      "Block process execution",
			Priority:  200,
			ToolMatch: "exec_*",
			Condition: "true",
			Action:    policy.ActionBlock,
			Reason:    "process execution is not allowed",
			Severity:  policy.SeverityCritical,
		},
		{
			ID:        "block-sensitive-paths",
			Name:      "Block access to system credentials",
			Priority:  150,
			ToolMatch: "*",
			Condition: `arg_contains(tool_args, "/etc/shadow") || arg_contains(tool_args, ".ssh/id_")`,
			Action:    policy.ActionBlock,
			Reason:    "access to credential files",
			Severity:  policy.SeverityCritical,
		},
	}
}

// Compile-time interface verification.
var _ policy.PolicyEngine = (*PolicyService)(nil)
