package common

import (
	"github.com/google/uuid"
)

// NewExecutionID generates a unique sync execution ID with the "sync_" prefix
func NewExecutionID() string {
	return "sync_" + uuid.New().String()
}

// NewAttemptID generates a unique auth attempt ID with the "auth_" prefix
func NewAttemptID() string {
	return "auth_" + uuid.New().String()
}

// NewJobID generates a unique extraction job ID with the "extract_" prefix
func NewJobID() string {
	return "extract_" + uuid.New().String()
}

// NewRecordID generates a unique ledger record ID with the "rec_" prefix
func NewRecordID() string {
	return "rec_" + uuid.New().String()
}
