package events

// EventData is implemented by typed event payloads
type EventData interface {
	EventType() EventType
}

// PlanGeneratedData contains data for PlanGenerated events
type PlanGeneratedData struct {
	PlanID        string `json:"plan_id"`
	Instructions  int    `json:"instructions"`
	TargetReserve string `json:"target_reserve"`
	FinalReserve  string `json:"final_reserve"`
	Reason        string `json:"reason,omitempty"`
}

// EventType returns the event type for PlanGeneratedData
func (d *PlanGeneratedData) EventType() EventType {
	return PlanGenerated
}

// PlanExecutedData contains data for PlanExecuted events
type PlanExecutedData struct {
	PlanID       string `json:"plan_id"`
	Instructions int    `json:"instructions"`
	Inflow       string `json:"inflow"`
	Outflow      string `json:"outflow"`
	FinalReserve string `json:"final_reserve"`
}

// EventType returns the event type for PlanExecutedData
func (d *PlanExecutedData) EventType() EventType {
	return PlanExecuted
}

// PlanFailedData contains data for PlanFailed events
type PlanFailedData struct {
	PlanID string `json:"plan_id,omitempty"`
	Stage  string `json:"stage"` // plan or execute
	Error  string `json:"error"`
}

// EventType returns the event type for PlanFailedData
func (d *PlanFailedData) EventType() EventType {
	return PlanFailed
}

// RebalanceSkippedData contains data for RebalanceSkipped events
type RebalanceSkippedData struct {
	Reason string `json:"reason"`
}

// EventType returns the event type for RebalanceSkippedData
func (d *RebalanceSkippedData) EventType() EventType {
	return RebalanceSkipped
}

// BalanceChangedData contains data for DepositProcessed and WithdrawalProcessed events
type BalanceChangedData struct {
	Holder string `json:"holder"`
	Kind   string `json:"kind"` // deposit or withdraw
	Amount string `json:"amount"`
}

// EventType is determined by the Kind field
func (d *BalanceChangedData) EventType() EventType {
	if d.Kind == "withdraw" {
		return WithdrawalProcessed
	}
	return DepositProcessed
}

// StrategyChangedData contains data for StrategyChanged events
type StrategyChangedData struct {
	Pools []string `json:"pools"`
}

// EventType returns the event type for StrategyChangedData
func (d *StrategyChangedData) EventType() EventType {
	return StrategyChanged
}

// JobStatusData contains data for job lifecycle events
type JobStatusData struct {
	Job        string `json:"job"`
	Status     string `json:"status"` // started, completed, failed
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// EventType is determined by the Status field
func (d *JobStatusData) EventType() EventType {
	switch d.Status {
	case "started":
		return JobStarted
	case "failed":
		return JobFailed
	default:
		return JobCompleted
	}
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
	Removed   int    `json:"removed"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}
