package adapters

import (
	"context"
	"testing"
)

func TestErrorKindTransientClassification(t *testing.T) {
	t.Parallel()
	transient := []ErrorKind{ErrRateLimited, ErrTemporaryUnavail, ErrNetworkTimeout}
	for _, k := range transient {
		if !k.Transient() {
			t.Errorf("expected %s to be transient", k)
		}
	}
	if ErrInputRejected.Transient() {
		t.Error("expected INPUT_REJECTED to be permanent")
	}
}

func TestMockASRReturnsScriptedResponsesInOrder(t *testing.T) {
	t.Parallel()
	mock := &MockASR{Responses: []MockASRResponse{
		{Err: &AdapterError{Kind: ErrRateLimited, Detail: "too fast"}},
		{Result: Transcribed{Segments: []Segment{{Text: "hello"}}}},
	}}

	_, err := mock.Transcribe(context.Background(), "a.wav", "")
	if err == nil || err.Kind != ErrRateLimited {
		t.Fatalf("expected RATE_LIMITED on first call, got %v", err)
	}

	result, err := mock.Transcribe(context.Background(), "a.wav", "")
	if err != nil {
		t.Fatalf("expected success on second call, got %v", err)
	}
	if len(result.Segments) != 1 || result.Segments[0].Text != "hello" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if mock.Calls() != 2 {
		t.Fatalf("expected 2 calls recorded, got %d", mock.Calls())
	}
}

func TestNoopClassifierAlwaysUnknown(t *testing.T) {
	t.Parallel()
	c := NoopClassifier{}
	result, err := c.ClassifySpeaker(context.Background(), "text", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Label != LabelUnknown {
		t.Fatalf("expected UNKNOWN, got %s", result.Label)
	}
}
