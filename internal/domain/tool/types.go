// Package tool classifies tools by the risk their names suggest.
package tool

import (
	"fmt"
	"strings"
)

// RiskLevel represents the security risk level of a tool.
type RiskLevel string

const (
	// RiskLevelLow indicates read-only, informational operations.
	// Examples: list_files, get_status, help, version.
	RiskLevelLow RiskLevel = "LOW"

	// RiskLevelMedium indicates read operations with potential sensitivity.
	// Examples: fetch_data, download_file, export_report, search_users.
	RiskLevelMedium RiskLevel = "MEDIUM"

	// RiskLevelHigh indicates write operations or network access.
	// Examples: file_write, create_user, update_config, send_email.
	RiskLevelHigh RiskLevel = "HIGH"

	// RiskLevelCritical indicates destructive operations, system commands, or admin ops.
	// Examples: file_delete, execute_command, shell_exec, admin_reset.
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// IsValid returns true if the risk level is a known valid level.
func (r RiskLevel) IsValid() bool {
	return r.rank() > 0
}

func (r RiskLevel) rank() int {
	switch r {
	case RiskLevelLow:
		return 1
	case RiskLevelMedium:
		return 2
	case RiskLevelHigh:
		return 3
	case RiskLevelCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether r is as risky as min or riskier.
func (r RiskLevel) AtLeast(min RiskLevel) bool {
	return r.rank() >= min.rank() && min.IsValid()
}

// ParseRiskLevel accepts a level name in any case. The empty string parses
// to the empty level.
func ParseRiskLevel(s string) (RiskLevel, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	r := RiskLevel(strings.ToUpper(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("unknown risk level %q", s)
	}
	return r, nil
}
