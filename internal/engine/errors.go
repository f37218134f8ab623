package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/guildmark/internal/domain"
)

// EngineError represents an error detected during evaluation or sync.
//
// None of these are user-fatal. They degrade to "treat as locked" or
// "skip attribution" and surface again on the next evaluation.
type EngineError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Key identifies the affected record identity, if any.
	Key domain.IdentityKey

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeRuleData indicates a rule referencing an unknown condition type
	// or otherwise malformed rule data. Logged, never fatal.
	ErrCodeRuleData ErrorCode = "RULE_DATA"

	// ErrCodeSyncConflict indicates the persisted row changed between read
	// and write. Resolved by re-reading on the next cycle, never by
	// overwriting.
	ErrCodeSyncConflict ErrorCode = "SYNC_CONFLICT"

	// ErrCodeDuplicateInvariant indicates more than one row for one identity
	// key. Repaired by the sweeper.
	ErrCodeDuplicateInvariant ErrorCode = "DUPLICATE_INVARIANT"

	// ErrCodeInvalidGrant indicates an explicit master action that cannot
	// apply (unknown template, badge template, missing master).
	ErrCodeInvalidGrant ErrorCode = "INVALID_GRANT"
)

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Key != (domain.IdentityKey{}) {
		return fmt.Sprintf("%s: %s (key=%s)", e.Code, e.Message, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsSyncConflict returns true if the error is a sync conflict.
// Uses errors.As to handle wrapped errors.
func IsSyncConflict(err error) bool {
	return hasCode(err, ErrCodeSyncConflict)
}

// IsRuleDataError returns true if the error is a rule data error.
func IsRuleDataError(err error) bool {
	return hasCode(err, ErrCodeRuleData)
}

// IsInvalidGrant returns true if the error rejects an explicit master action.
func IsInvalidGrant(err error) bool {
	return hasCode(err, ErrCodeInvalidGrant)
}

func hasCode(err error, code ErrorCode) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// NewSyncConflict creates an EngineError for a lost optimistic write.
func NewSyncConflict(key domain.IdentityKey, expectedVersion, actualVersion int64) *EngineError {
	return &EngineError{
		Code:    ErrCodeSyncConflict,
		Message: "persisted record changed since it was read",
		Key:     key,
		Details: map[string]string{
			"expected_version": fmt.Sprintf("%d", expectedVersion),
			"actual_version":   fmt.Sprintf("%d", actualVersion),
		},
	}
}

// NewRuleDataError creates an EngineError for an unknown condition type.
func NewRuleDataError(templateID, ruleID domain.ID, condition domain.ConditionType) *EngineError {
	return &EngineError{
		Code:    ErrCodeRuleData,
		Message: fmt.Sprintf("unknown condition type %q", condition),
		Details: map[string]string{
			"template": string(templateID),
			"rule":     string(ruleID),
		},
	}
}

// NewDuplicateInvariantError creates an EngineError for a duplicated identity key.
func NewDuplicateInvariantError(key domain.IdentityKey, rows int) *EngineError {
	return &EngineError{
		Code:    ErrCodeDuplicateInvariant,
		Message: fmt.Sprintf("%d rows share one identity key", rows),
		Key:     key,
	}
}

func newInvalidGrant(message string) *EngineError {
	return &EngineError{Code: ErrCodeInvalidGrant, Message: message}
}
