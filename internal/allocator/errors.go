package allocator

import (
	"errors"
	"fmt"
)

// ClaimError represents a rejected claim submission.
//
// Rejections include:
//   - Validation: malformed quantities or unknown items
//   - Availability conflict: another participant claimed units first
//   - Precondition failed: the receipt is not open for claims
//   - Conflict: the participant already finalized
//   - Not found: the receipt does not exist
//
// ClaimError includes structured fields so the transport layer can
// build a response the client recovers from without losing the
// participant's selections.
type ClaimError struct {
	// Code identifies the rejection category.
	Code ClaimErrorCode

	// Message is a human-readable description.
	Message string

	// Availability lists current availability for each conflicting
	// item (availability conflicts only).
	Availability []ItemAvailability

	// PreserveInput tells the client to keep the participant's
	// selections on screen instead of resetting the form.
	PreserveInput bool
}

// ClaimErrorCode categorizes claim rejections.
type ClaimErrorCode string

const (
	// CodeValidation indicates a malformed submission.
	CodeValidation ClaimErrorCode = "VALIDATION"

	// CodeAvailabilityConflict indicates a concurrent claim took the
	// requested units first.
	CodeAvailabilityConflict ClaimErrorCode = "AVAILABILITY_CONFLICT"

	// CodePreconditionFailed indicates the receipt is not accepting
	// claims in its current state.
	CodePreconditionFailed ClaimErrorCode = "PRECONDITION_FAILED"

	// CodeConflict indicates the participant already finalized.
	CodeConflict ClaimErrorCode = "CONFLICT"

	// CodeNotFound indicates the receipt or item does not exist.
	CodeNotFound ClaimErrorCode = "NOT_FOUND"
)

// ItemAvailability reports how many units of an item remain for the
// submitting participant after everyone else's claims.
type ItemAvailability struct {
	ItemID    string `json:"item_id"`
	Name      string `json:"name"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// Error implements the error interface.
func (e *ClaimError) Error() string {
	if len(e.Availability) > 0 {
		return fmt.Sprintf("%s: %s (%d items)", e.Code, e.Message, len(e.Availability))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsClaimError unwraps err into a ClaimError, or returns nil.
func AsClaimError(err error) *ClaimError {
	var ce *ClaimError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}

// IsAvailabilityConflict returns true if the error is a lost claim
// race. Uses errors.As to handle wrapped errors.
func IsAvailabilityConflict(err error) bool {
	ce := AsClaimError(err)
	return ce != nil && ce.Code == CodeAvailabilityConflict
}

// NewAvailabilityError creates a ClaimError for a lost claim race.
// The client is told to preserve the participant's input so they can
// adjust instead of starting over.
func NewAvailabilityError(conflicts []ItemAvailability) *ClaimError {
	return &ClaimError{
		Code:          CodeAvailabilityConflict,
		Message:       "some items were claimed by others while you were selecting",
		Availability:  conflicts,
		PreserveInput: true,
	}
}

// NewValidationError creates a ClaimError for a malformed submission.
func NewValidationError(format string, args ...any) *ClaimError {
	return &ClaimError{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NewPreconditionError creates a ClaimError for a receipt that is not
// accepting claims.
func NewPreconditionError(format string, args ...any) *ClaimError {
	return &ClaimError{Code: CodePreconditionFailed, Message: fmt.Sprintf(format, args...)}
}

// NewConflictError creates a ClaimError for a participant who already
// finalized.
func NewConflictError(name string) *ClaimError {
	return &ClaimError{
		Code:    CodeConflict,
		Message: fmt.Sprintf("%s has already finalized their claims", name),
	}
}

// NewNotFoundError creates a ClaimError for a missing receipt or item.
func NewNotFoundError(format string, args ...any) *ClaimError {
	return &ClaimError{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}
