// Package events provides the event manager and the in-process bus that fans events
// out to subscribers such as the websocket stream.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	// Rebalancing
	PlanGenerated    EventType = "PLAN_GENERATED"
	PlanExecuted     EventType = "PLAN_EXECUTED"
	PlanFailed       EventType = "PLAN_FAILED"
	RebalanceSkipped EventType = "REBALANCE_SKIPPED"

	// Ledger and configuration
	DepositProcessed    EventType = "DEPOSIT_PROCESSED"
	WithdrawalProcessed EventType = "WITHDRAWAL_PROCESSED"
	StrategyChanged     EventType = "STRATEGY_CHANGED"

	// Jobs and maintenance
	JobStarted      EventType = "JOB_STARTED"
	JobCompleted    EventType = "JOB_COMPLETED"
	JobFailed       EventType = "JOB_FAILED"
	BackupCompleted EventType = "BACKUP_COMPLETED"

	ErrorOccurred EventType = "ERROR_OCCURRED"
)

// AllEventTypes lists every event type the system emits
var AllEventTypes = []EventType{
	PlanGenerated,
	PlanExecuted,
	PlanFailed,
	RebalanceSkipped,
	DepositProcessed,
	WithdrawalProcessed,
	StrategyChanged,
	JobStarted,
	JobCompleted,
	JobFailed,
	BackupCompleted,
	ErrorOccurred,
}

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Module    string                 `json:"module"`
	Data      map[string]interface{} `json:"data"`
}
