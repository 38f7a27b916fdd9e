package tool

import (
	"strings"
)

// criticalPatterns indicate destructive operations or system commands.
var criticalPatterns = []string{
	"delete", "remove", "drop", "destroy", "execute", "exec",
	"shell", "command", "admin", "sudo", "root", "truncate",
}

// highPatterns indicate write operations or network access.
var highPatterns = []string{
	"write", "create", "update", "modify", "send", "post",
	"upload", "deploy", "install", "connect", "put",
}

// mediumPatterns indicate reads with potential sensitivity.
var mediumPatterns = []string{
	"fetch", "download", "export", "query", "search", "get",
}

// ClassifyName determines the risk level of a tool from its name.
// Classification is case-insensitive substring matching, checked from
// critical down to medium; anything else is low. "undelete" also matches
// "delete"; explicit high-risk lists in the policy cover the exceptions.
func ClassifyName(name string) RiskLevel {
	name = strings.ToLower(name)

	for _, pattern := range criticalPatterns {
		if strings.Contains(name, pattern) {
			return RiskLevelCritical
		}
	}
	for _, pattern := range highPatterns {
		if strings.Contains(name, pattern) {
			return RiskLevelHigh
		}
	}
	for _, pattern := range mediumPatterns {
		if strings.Contains(name, pattern) {
			return RiskLevelMedium
		}
	}
	return RiskLevelLow
}
