package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrTransient       = errors.New("transient service error")
	ErrFatalInfra      = errors.New("fatal infrastructure error")
	ErrConfiguration   = errors.New("configuration error")
	ErrExternalService = errors.New("external service error")
	ErrNotFound        = errors.New("not found")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return err != nil && errors.Is(err, ErrTransient) && !errors.Is(err, ErrFatalInfra)
}

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	return err != nil && errors.Is(err, ErrFatalInfra)
}

// Label returns a short classification label for err, used in logs and the
// final run summary.
func Label(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFatalInfra):
		return "fatal"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrExternalService):
		return "external"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "unknown"
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
