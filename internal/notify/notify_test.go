package notify

import (
	"context"
	"testing"
)

func TestPublishWithNilConnectionIsNoop(t *testing.T) {
	if err := Publish(context.Background(), nil, SubjectJobSubmitted, []byte("payload")); err != nil {
		t.Fatalf("Publish with a nil connection should be a no-op, got %v", err)
	}
}
