package obs

import (
	"context"
	"testing"
)

func TestWithSpanEndIsIdempotentSafe(t *testing.T) {
	ctx, end := WithSpan(context.Background(), "test-span")
	if ctx == nil {
		t.Fatal("expected a non-nil context from WithSpan")
	}
	end()
	end() // a second end must not panic
}

func TestFlushRespectsShutdownFunc(t *testing.T) {
	called := false
	Flush(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if !called {
		t.Fatal("expected Flush to invoke the shutdown function")
	}
}
