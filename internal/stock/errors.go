package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/maltedev/queenbooks-stock/internal/browser"
)

// ErrorKind names a failure class. It is what ends up in Result.Error.
type ErrorKind string

const (
	KindCredentialFieldsNotFound ErrorKind = "CredentialFieldsNotFound"
	KindCredentialsRejected      ErrorKind = "CredentialsRejected"
	KindRetryBudgetExhausted     ErrorKind = "RetryBudgetExhausted"
	KindNavigationTimeout        ErrorKind = "NavigationTimeout"
	KindElementNotFound          ErrorKind = "ElementNotFound"
	KindMessageUnparsable        ErrorKind = "MessageUnparsable"
	KindDriverFatal              ErrorKind = "DriverFatal"
	KindProbeTimeout             ErrorKind = "ProbeTimeout"
	KindCancelled                ErrorKind = "Cancelled"
	KindUnknown                  ErrorKind = "Unknown"
)

// IsAuth reports whether k is one of the authentication failures.
func (k ErrorKind) IsAuth() bool {
	switch k {
	case KindCredentialFieldsNotFound, KindCredentialsRejected, KindRetryBudgetExhausted:
		return true
	}
	return false
}

// Error is a classified failure. Two Errors match under errors.Is when their
// kinds are equal, so the package-level sentinels can be used as targets.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrCredentialFieldsNotFound = &Error{Kind: KindCredentialFieldsNotFound}
	ErrCredentialsRejected      = &Error{Kind: KindCredentialsRejected}
	ErrRetryBudgetExhausted     = &Error{Kind: KindRetryBudgetExhausted}
	ErrNavigationTimeout        = &Error{Kind: KindNavigationTimeout}
	ErrElementNotFound          = &Error{Kind: KindElementNotFound}
	ErrMessageUnparsable        = &Error{Kind: KindMessageUnparsable}
	ErrDriverFatal              = &Error{Kind: KindDriverFatal}

	ErrNoProducts    = errors.New("at least one product id is required")
	ErrBatchTooLarge = errors.New("too many product ids in one batch")
)

// KindOf classifies err. The outermost *Error wins; driver sentinels are
// mapped onto the taxonomy otherwise.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	switch {
	case errors.Is(err, browser.ErrDisconnected):
		return KindDriverFatal
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, browser.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindNavigationTimeout
	case errors.Is(err, browser.ErrNotFound):
		return KindElementNotFound
	default:
		return KindUnknown
	}
}

// driverError lifts a driver failure into the taxonomy, keeping the cause.
func driverError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}
