package policy

import (
	"time"
)

// EvaluationContext contains all information needed to evaluate a tool call.
type EvaluationContext struct {
	// ToolName is the name of the tool being invoked.
	ToolName string
	// ToolArguments are the arguments passed to the tool.
	ToolArguments map[string]interface{}
	// AgentID identifies the calling principal.
	AgentID string
	// AgentRoles are the roles mapped to AgentID by the policy.
	AgentRoles []string
	// RequestTime is when the tool call was received.
	RequestTime time.Time
}

// HasRole reports whether the agent holds any of roles.
func (c EvaluationContext) HasRole(roles ...string) bool {
	for _, have := range c.AgentRoles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}
