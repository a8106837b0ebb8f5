// Package remediation applies corrective actions to modules that match
// configured rules and verifies the effect with a follow-up check.
package remediation

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/leozw/health-guardian/internal/core"
)

type ActionType string

const (
	ActionClearCache      ActionType = "clear_cache"
	ActionDatabaseCleanup ActionType = "database_cleanup"
	ActionNotifyOnly      ActionType = "notify_only"
)

const (
	defaultCooldown    = 15 * time.Minute
	defaultMaxAttempts = 1
)

// cacheTargets maps clear_cache targets to key patterns.
var cacheTargets = map[string]string{
	"sessions":      "sess:*",
	"health":        "health:*",
	"ai_rate_limit": "ai:ratelimit:*",
}

// TargetHealthHistory prunes persisted results and summaries older than
// the configured retention.
const TargetHealthHistory = "health_history"

// Condition selects the results a rule applies to. Every set field must
// match; string matches are case-insensitive substrings.
type Condition struct {
	ScoreBelow      int    `yaml:"scoreBelow,omitempty" json:"scoreBelow,omitempty"`
	ErrorContains   string `yaml:"errorContains,omitempty" json:"errorContains,omitempty"`
	WarningContains string `yaml:"warningContains,omitempty" json:"warningContains,omitempty"`
	CheckFailed     string `yaml:"checkFailed,omitempty" json:"checkFailed,omitempty"`
}

type Action struct {
	Type        ActionType `yaml:"type" json:"type"`
	Target      string     `yaml:"target,omitempty" json:"target,omitempty"`
	Description string     `yaml:"description" json:"description"`
}

type Rule struct {
	ID              string        `yaml:"id" json:"id"`
	Module          string        `yaml:"module" json:"module"`
	Condition       Condition     `yaml:"condition" json:"condition"`
	Actions         []Action      `yaml:"actions" json:"actions"`
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	MaxAttempts     int           `yaml:"maxAttempts" json:"maxAttempts"`
	Cooldown        time.Duration `yaml:"cooldown" json:"cooldown"`
	NotifyOnSuccess bool          `yaml:"notifyOnSuccess" json:"notifyOnSuccess"`
	NotifyOnFailure bool          `yaml:"notifyOnFailure" json:"notifyOnFailure"`
}

// Matches reports whether the rule applies to r.
func (rule Rule) Matches(r core.ModuleResult) bool {
	if !rule.Enabled || rule.Module != r.Module {
		return false
	}
	c := rule.Condition
	if c.ScoreBelow > 0 && r.Score >= c.ScoreBelow {
		return false
	}
	if c.ErrorContains != "" && !containsFold(r.Errors, c.ErrorContains) {
		return false
	}
	if c.WarningContains != "" && !containsFold(r.Warnings, c.WarningContains) {
		return false
	}
	if c.CheckFailed != "" && !checkFailed(r.Checks, c.CheckFailed) {
		return false
	}
	return true
}

// notifyOnly reports whether every action only sends a notification.
func (rule Rule) notifyOnly() bool {
	for _, a := range rule.Actions {
		if a.Type != ActionNotifyOnly {
			return false
		}
	}
	return true
}

func containsFold(values []string, needle string) bool {
	needle = strings.ToLower(needle)
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

func checkFailed(outcomes []core.CheckOutcome, name string) bool {
	for _, o := range outcomes {
		if o.Description == name && (o.Status == core.CheckFail || o.Status == core.CheckError) {
			return true
		}
	}
	return false
}

// DefaultRules are applied when no rules file is configured.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:     "cache-memory-pressure",
			Module: "cache",
			Condition: Condition{
				ErrorContains: "memory almost full",
			},
			Actions: []Action{
				{Type: ActionClearCache, Target: "health", Description: "Clear health summary keys"},
				{Type: ActionNotifyOnly, Description: "Alert administrators about Redis memory"},
			},
			Enabled:         true,
			MaxAttempts:     2,
			Cooldown:        time.Hour,
			NotifyOnSuccess: true,
			NotifyOnFailure: true,
		},
		{
			ID:     "database-history-retention",
			Module: "database",
			Condition: Condition{
				WarningContains: "database size is large",
			},
			Actions: []Action{
				{Type: ActionDatabaseCleanup, Target: TargetHealthHistory, Description: "Prune old health check history"},
			},
			Enabled:         true,
			MaxAttempts:     1,
			Cooldown:        24 * time.Hour,
			NotifyOnFailure: true,
		},
		{
			ID:     "database-connection-alert",
			Module: "database",
			Condition: Condition{
				CheckFailed: "Database Connection Speed",
				ScoreBelow:  50,
			},
			Actions: []Action{
				{Type: ActionNotifyOnly, Description: "Alert administrators about database connectivity"},
			},
			Enabled:     true,
			MaxAttempts: 2,
			Cooldown:    30 * time.Minute,
		},
		{
			ID:     "websocket-down",
			Module: "websocket",
			Condition: Condition{
				WarningContains: "websocket server is not running",
			},
			Actions: []Action{
				{Type: ActionNotifyOnly, Description: "Alert administrators about the websocket server"},
			},
			Enabled:     true,
			MaxAttempts: 3,
			Cooldown:    20 * time.Minute,
		},
		{
			ID:     "backup-missing",
			Module: "backup",
			Condition: Condition{
				ErrorContains: "no backup found",
			},
			Actions: []Action{
				{Type: ActionNotifyOnly, Description: "Alert administrators about missing backups"},
			},
			Enabled:     true,
			MaxAttempts: 1,
			Cooldown:    6 * time.Hour,
		},
		{
			ID:     "ai-rate-limit",
			Module: "ai",
			Condition: Condition{
				WarningContains: "approaching ai rate limit",
			},
			Actions: []Action{
				{Type: ActionNotifyOnly, Description: "Alert administrators about AI usage"},
			},
			Enabled:         true,
			MaxAttempts:     1,
			Cooldown:        24 * time.Hour,
			NotifyOnSuccess: true,
		},
	}
}

// LoadRules reads a YAML rule list. An empty path returns DefaultRules.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read remediation rules: %w", err)
	}
	return ParseRules(data)
}

func ParseRules(data []byte) ([]Rule, error) {
	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse remediation rules: %w", err)
	}
	if err := validateRules(rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func validateRules(rules []Rule) error {
	seen := make(map[string]bool, len(rules))
	for i := range rules {
		r := &rules[i]
		switch {
		case r.ID == "":
			return fmt.Errorf("remediation rule %d has no id", i)
		case seen[r.ID]:
			return fmt.Errorf("duplicate remediation rule %q", r.ID)
		case r.Module == "":
			return fmt.Errorf("remediation rule %q has no module", r.ID)
		case len(r.Actions) == 0:
			return fmt.Errorf("remediation rule %q has no actions", r.ID)
		}
		seen[r.ID] = true
		if r.MaxAttempts <= 0 {
			r.MaxAttempts = defaultMaxAttempts
		}
		if r.Cooldown <= 0 {
			r.Cooldown = defaultCooldown
		}
		for _, a := range r.Actions {
			if err := validateAction(a); err != nil {
				return fmt.Errorf("remediation rule %q: %w", r.ID, err)
			}
		}
	}
	return nil
}

func validateAction(a Action) error {
	switch a.Type {
	case ActionClearCache:
		if _, ok := cacheTargets[a.Target]; !ok {
			return fmt.Errorf("unknown cache target %q", a.Target)
		}
	case ActionDatabaseCleanup:
		if a.Target != TargetHealthHistory {
			return fmt.Errorf("unknown cleanup target %q", a.Target)
		}
	case ActionNotifyOnly:
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}
