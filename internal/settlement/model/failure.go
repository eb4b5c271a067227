package model

// FailureType is the closed taxonomy of settlement failures. Every terminal
// failure path maps to exactly one of these values.
type FailureType string

const (
	FailureTransactionTimeout  FailureType = "TRANSACTION_TIMEOUT"
	FailureNetworkError        FailureType = "NETWORK_ERROR"
	FailureBlockchainRejection FailureType = "BLOCKCHAIN_REJECTION"
	FailureInsufficientFunds   FailureType = "INSUFFICIENT_FUNDS"
	FailureInvalidAddress      FailureType = "INVALID_ADDRESS"
	FailureUserError           FailureType = "USER_ERROR"
	FailureFeeValidation       FailureType = "FEE_VALIDATION_FAILED"
	FailureMonitoring          FailureType = "MONITORING_FAILED"
	FailureMaxRetries          FailureType = "MAX_RETRIES_EXCEEDED"
	FailureSystemError         FailureType = "SYSTEM_ERROR"
)

// FailurePriority ranks how urgently a failure needs operator attention.
type FailurePriority string

const (
	PriorityLow      FailurePriority = "low"
	PriorityMedium   FailurePriority = "medium"
	PriorityHigh     FailurePriority = "high"
	PriorityCritical FailurePriority = "critical"
)

// FailureRecord is the classified view of a failure. It is derived, never
// stored on its own: the reason lands on the withdrawal and the full record
// goes to the admin notification channel.
type FailureRecord struct {
	Type              FailureType
	Reason            string
	RecommendedAction string
	Priority          FailurePriority
}
