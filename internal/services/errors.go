package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrConfiguration    = errors.New("configuration error")
	ErrNotFound         = errors.New("not found")
	ErrTimeout          = errors.New("timeout")
	ErrTransientNetwork = errors.New("transient network failure")
	ErrDeliveryRejected = errors.New("delivery rejected")
	ErrStorage          = errors.New("storage failure")

	// Archive failures are reported to users as a missing book.
	ErrCorruptArchive   = fmt.Errorf("corrupt archive: %w", ErrNotFound)
	ErrNoMatchingMember = fmt.Errorf("no matching archive member: %w", ErrNotFound)
)

// Reason is the user-facing classification of a failed delivery.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonNotFound Reason = "not_found"
	ReasonTryLater Reason = "try_later"
	ReasonInternal Reason = "internal"
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransientNetwork
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ReasonFor maps an error to the reason reported to the requester.
func ReasonFor(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrTransientNetwork), errors.Is(err, ErrTimeout):
		return ReasonTryLater
	default:
		return ReasonInternal
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
