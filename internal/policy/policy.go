// Package policy implements the Policy Guards (C4): the runtime and
// startup-time assertions that keep the core honest about mutation,
// audited adapter calls, egress, and export manifests.
package policy

import (
	"net/url"
	"strings"

	"github.com/clinisys/diarocore/internal/errs"
)

// forbiddenVerbs is the no-mutation naming policy's closed verb set.
// No exported function in the core may start with one of these,
// except the mutable attribute path mediated entirely inside
// internal/archive's SetMutableAttr/AttrHistory, which is the policy's
// sole sanctioned exception.
var forbiddenVerbs = []string{
	"update_", "delete_", "remove_", "modify_", "edit_", "change_",
	"overwrite_", "truncate_", "drop_", "clear_", "reset_", "set_",
}

// allowedSetters is the enumerated exception list from spec.md §4.1/4.8:
// these are the only "set_"-shaped names the archive layer may expose,
// and only because they route through attribute_history.
var allowedSetters = map[string]struct{}{
	"SetAttr":        {},
	"SetMutableAttr": {},
}

// CheckFunctionName enforces the no-mutation naming policy against a
// single exported function name, as used by the lint-events startup
// check (and any other static sweep over the core's own symbol table).
// A name violates when it starts, case-insensitively, with a verb stem
// followed by an underscore, an upper-case letter or nothing, so
// overwrite_row, UpdateJobStatus and deleteChunk all violate while
// Settings does not.
func CheckFunctionName(name string) error {
	if _, ok := allowedSetters[name]; ok {
		return nil
	}
	for _, verb := range forbiddenVerbs {
		stem := strings.TrimSuffix(verb, "_")
		if len(name) < len(stem) || !strings.EqualFold(name[:len(stem)], stem) {
			continue
		}
		rest := name[len(stem):]
		if rest == "" || rest[0] == '_' || (rest[0] >= 'A' && rest[0] <= 'Z') {
			return errs.Newf("function %q uses a forbidden mutation verb %q", name, verb).
				Kind(errs.KindPolicyViolationDetected).Component("policy").Build()
		}
	}
	return nil
}

// EgressGuard enforces the egress-deny-by-default policy: the core may
// only initiate network calls to hosts explicitly present in the
// configured allowlist.
type EgressGuard struct {
	allowed map[string]struct{}
}

// NewEgressGuard builds a guard from the configured allowlist
// (config.Settings.Egress.AllowedHosts).
func NewEgressGuard(allowedHosts []string) *EgressGuard {
	allowed := make(map[string]struct{}, len(allowedHosts))
	for _, h := range allowedHosts {
		allowed[strings.ToLower(h)] = struct{}{}
	}
	return &EgressGuard{allowed: allowed}
}

// Allow reports whether target (a URL or bare host) may be contacted,
// returning a POLICY_VIOLATION_DETECTED error when it may not.
func (g *EgressGuard) Allow(target string) error {
	host := target
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	if _, ok := g.allowed[strings.ToLower(host)]; ok {
		return nil
	}
	return errs.Newf("egress to %q is not in the allowlist", host).
		Kind(errs.KindPolicyViolationDetected).Component("policy").Context("host", host).Build()
}

// ExportManifestRequired is returned by any export path that attempts
// to hand bytes to a caller without an accompanying manifest.
func ExportManifestRequired(artifactName string) error {
	return errs.Newf("export of %q is missing a manifest", artifactName).
		Kind(errs.KindPolicyViolationDetected).Component("policy").Context("artifact", artifactName).Build()
}
