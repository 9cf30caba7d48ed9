package policy

import (
	"testing"

	"github.com/clinisys/diarocore/internal/errs"
)

func TestCheckFunctionNameRejectsForbiddenVerbs(t *testing.T) {
	t.Parallel()
	cases := []string{"UpdateJobStatus", "deleteChunk", "Reset_Registry", "overwrite_row"}
	for _, name := range cases {
		if err := CheckFunctionName(name); err == nil {
			t.Errorf("expected %q to violate the no-mutation policy", name)
		}
	}
}

func TestCheckFunctionNameAllowsEnumeratedSetters(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"SetAttr", "SetMutableAttr"} {
		if err := CheckFunctionName(name); err != nil {
			t.Errorf("expected %q to be an allowed exception, got %v", name, err)
		}
	}
}

func TestCheckFunctionNameAllowsOrdinaryNames(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"AppendRow", "Status", "Submit", "Cancel"} {
		if err := CheckFunctionName(name); err != nil {
			t.Errorf("expected %q to be allowed, got %v", name, err)
		}
	}
}

func TestEgressGuardAllowsOnlyAllowlistedHosts(t *testing.T) {
	t.Parallel()
	guard := NewEgressGuard([]string{"api.asr-vendor.example"})

	if err := guard.Allow("https://api.asr-vendor.example/v1/transcribe"); err != nil {
		t.Fatalf("expected allowlisted host to pass, got %v", err)
	}

	err := guard.Allow("https://evil.example/exfiltrate")
	if err == nil {
		t.Fatal("expected non-allowlisted host to be rejected")
	}
	if kind, ok := errs.KindOf(err); !ok || kind != errs.KindPolicyViolationDetected {
		t.Fatalf("expected POLICY_VIOLATION_DETECTED, got %v", err)
	}
}

func TestExportManifestRequiredProducesPolicyViolation(t *testing.T) {
	t.Parallel()
	err := ExportManifestRequired("transcript.json")
	if kind, ok := errs.KindOf(err); !ok || kind != errs.KindPolicyViolationDetected {
		t.Fatalf("expected POLICY_VIOLATION_DETECTED, got %v", err)
	}
}
