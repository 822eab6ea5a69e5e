package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if !opts.Headless {
		t.Error("Expected headless to be true by default")
	}

	if opts.Timeout != 30*time.Second {
		t.Errorf("Expected timeout to be 30s, got %v", opts.Timeout)
	}

	if opts.ViewportWidth != 1920 || opts.ViewportHeight != 1080 {
		t.Errorf("Expected viewport to be 1920x1080, got %dx%d", opts.ViewportWidth, opts.ViewportHeight)
	}

	if opts.Locale != "pt-BR" {
		t.Errorf("Expected locale to be pt-BR, got %s", opts.Locale)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"playwright timeout", fmt.Errorf("goto: %w", playwright.ErrTimeout), ErrTimeout},
		{"target closed", fmt.Errorf("click: %w", playwright.ErrTargetClosed), ErrDisconnected},
		{"browser closed message", errors.New("Browser has been closed"), ErrDisconnected},
		{"connection closed message", errors.New("websocket: connection closed"), ErrDisconnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.sentinel)
		})
	}

	t.Run("other errors pass through", func(t *testing.T) {
		err := errors.New("strict mode violation")
		assert.Equal(t, err, classify(err))
		assert.False(t, IsFatal(classify(err)))
	})
}

func TestEffectiveTimeout(t *testing.T) {
	assert.Equal(t, 5*time.Second, effectiveTimeout(context.Background(), 5*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got := effectiveTimeout(ctx, time.Minute)
	assert.LessOrEqual(t, got, time.Second)
	assert.Greater(t, got, time.Duration(0))
}

func TestCtxErr(t *testing.T) {
	assert.NoError(t, ctxErr(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ctxErr(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}
