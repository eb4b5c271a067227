package model

import "github.com/google/uuid"

// Job names consumed by the settlement queue workers.
const (
	JobProcessWithdrawal   = "process-withdrawal"
	JobMonitorConfirmation = "monitor-confirmation"
)

// ProcessJob is the payload of a process-withdrawal job.
type ProcessJob struct {
	WithdrawalID uuid.UUID `json:"withdrawal_id"`
	UserID       uuid.UUID `json:"user_id"`
}

// ConfirmationJob is the payload of a monitor-confirmation job. A new job is
// created (not mutated) for every backoff retry, with Attempt incremented.
type ConfirmationJob struct {
	WithdrawalID  uuid.UUID `json:"withdrawal_id"`
	TxHash        string    `json:"tx_hash"`
	BlockchainKey string    `json:"blockchain_key"`
	Attempt       int       `json:"attempt"`
}
