package core

import "time"

// RemediationRecord is the outcome of one remediation attempt.
type RemediationRecord struct {
	ID          int64       `json:"id" db:"id"`
	RuleID      string      `json:"ruleId" db:"rule_id"`
	Module      string      `json:"module" db:"module"`
	Success     bool        `json:"success" db:"success"`
	Actions     StringSlice `json:"actionsExecuted" db:"actions_executed"`
	Error       string      `json:"error,omitempty" db:"error"`
	ScoreBefore int         `json:"healthScoreBefore" db:"score_before"`
	ScoreAfter  *int        `json:"healthScoreAfter,omitempty" db:"score_after"`
	Timestamp   time.Time   `json:"timestamp" db:"timestamp"`
}
