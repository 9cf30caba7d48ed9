package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestBuilderProducesCoreError(t *testing.T) {
	t.Parallel()

	ce := Newf("row index %d behind dataset length %d", 3, 5).
		Kind(KindAppendOnlyViolation).
		Component("archive").
		Context("dataset", "chunks").
		Build()

	if ce.Kind != KindAppendOnlyViolation {
		t.Fatalf("expected kind %s, got %s", KindAppendOnlyViolation, ce.Kind)
	}
	if ce.Component != "archive" {
		t.Fatalf("expected component archive, got %s", ce.Component)
	}
	if ce.Context["dataset"] != "chunks" {
		t.Fatalf("expected dataset context to survive Build, got %v", ce.Context)
	}
	if ce.Error() == "" {
		t.Fatal("expected non-empty error string")
	}
}

func TestBuildWithoutKindPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("expected Build without a Kind to panic")
		}
	}()
	New(errors.New("boom")).Build()
}

func TestKindOfUnwrapsThroughFmtErrorf(t *testing.T) {
	t.Parallel()

	base := Sentinel(KindIdentityMismatch)
	wrapped := fmt.Errorf("open archive: %w", base)

	kind, ok := KindOf(wrapped)
	if !ok || kind != KindIdentityMismatch {
		t.Fatalf("expected to recover KindIdentityMismatch, got %v ok=%v", kind, ok)
	}
}

func TestIsMatchesSameKindOnly(t *testing.T) {
	t.Parallel()

	a := Sentinel(KindChunkProcessingFailed)
	b := Sentinel(KindChunkProcessingFailed)
	c := Sentinel(KindJobNotFound)

	if !errors.Is(a, b) {
		t.Fatal("expected two CoreErrors of the same kind to match with errors.Is")
	}
	if errors.Is(a, c) {
		t.Fatal("expected CoreErrors of different kinds not to match")
	}
}

func TestRetryableKinds(t *testing.T) {
	t.Parallel()

	retryable := []Kind{KindAdapterRateLimited, KindAdapterTemporaryUnavail, KindChunkTimedOut}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("expected %s to be retryable", k)
		}
	}

	permanent := []Kind{KindAdapterInputRejected, KindPolicyViolationDetected, KindAppendOnlyViolation}
	for _, k := range permanent {
		if k.Retryable() {
			t.Errorf("expected %s not to be retryable", k)
		}
	}
}

func TestMarkReportedIsIdempotentAndVisible(t *testing.T) {
	t.Parallel()

	ce := Sentinel(KindAuditAppendFailed)
	if ce.IsReported() {
		t.Fatal("expected fresh CoreError to be unreported")
	}
	ce.MarkReported()
	if !ce.IsReported() {
		t.Fatal("expected MarkReported to be observed by IsReported")
	}
}
