package stock

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maltedev/queenbooks-stock/internal/browser"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"classified", &Error{Kind: KindCredentialsRejected}, KindCredentialsRejected},
		{"wrapped classified", fmt.Errorf("probe: %w", &Error{Kind: KindMessageUnparsable}), KindMessageUnparsable},
		{"outermost wins", &Error{Kind: KindRetryBudgetExhausted, Err: &Error{Kind: KindCredentialFieldsNotFound}}, KindRetryBudgetExhausted},
		{"disconnected", fmt.Errorf("goto: %w", browser.ErrDisconnected), KindDriverFatal},
		{"driver timeout", browser.ErrTimeout, KindNavigationTimeout},
		{"deadline", context.DeadlineExceeded, KindNavigationTimeout},
		{"cancelled", context.Canceled, KindCancelled},
		{"not found", browser.ErrNotFound, KindElementNotFound},
		{"other", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("batch: %w", &Error{Kind: KindDriverFatal, Op: "navigate", Err: browser.ErrDisconnected})

	assert.ErrorIs(t, err, ErrDriverFatal)
	assert.ErrorIs(t, err, browser.ErrDisconnected)
	assert.NotErrorIs(t, err, ErrNavigationTimeout)
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "login: CredentialsRejected: bad", (&Error{Kind: KindCredentialsRejected, Op: "login", Err: errors.New("bad")}).Error())
	assert.Equal(t, "ElementNotFound", ErrElementNotFound.Error())
}

func TestDriverError(t *testing.T) {
	assert.Nil(t, driverError("op", nil))

	err := driverError("click", browser.ErrNotFound)
	assert.Equal(t, KindElementNotFound, KindOf(err))
	assert.ErrorIs(t, err, browser.ErrNotFound)

	classified := &Error{Kind: KindCredentialsRejected}
	assert.Same(t, classified, driverError("login", classified))
}

func TestErrorKind_IsAuth(t *testing.T) {
	assert.True(t, KindRetryBudgetExhausted.IsAuth())
	assert.True(t, KindCredentialFieldsNotFound.IsAuth())
	assert.False(t, KindNavigationTimeout.IsAuth())
}
