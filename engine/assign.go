/*
assign.go - Certification type assignment and document prerequisites

PURPOSE:
  Derives the certification type of a jar run from the origin/quality
  flags, and answers which supporting documents a session needs. The
  source combined these booleans ad hoc at every call site; here the
  combination is one pure function backing the tagged type.

DOCUMENT RULES:
  - Any jar covering origin  -> a production report is expected.
  - Any jar covering quality -> a lab report is REQUIRED and must have
    passed external verification before commit (fatal otherwise).

SEE ALSO:
  - committer.go: CheckDocuments step
  - verify/: the HTTP client that produces the pass/fail answer
*/
package engine

// =============================================================================
// TYPE DERIVATION
// =============================================================================

// DeriveCertification maps the origin/quality flags onto a certification
// type. Returns (CertUnassigned, false) when neither flag is set; an
// unassigned jar blocks commit, it is never silently defaulted.
func DeriveCertification(origin, quality bool) (CertificationType, bool) {
	switch {
	case origin && quality:
		return CertBoth, true
	case origin:
		return CertOrigin, true
	case quality:
		return CertQuality, true
	default:
		return CertUnassigned, false
	}
}

// =============================================================================
// DOCUMENT PREREQUISITES
// =============================================================================

// NeedsProductionReport reports whether any jar in the session attests origin.
func NeedsProductionReport(jars []JarDefinition) bool {
	for _, j := range jars {
		if j.Certification.CoversOrigin() {
			return true
		}
	}
	return false
}

// NeedsLabReport reports whether any jar in the session attests quality.
func NeedsLabReport(jars []JarDefinition) bool {
	for _, j := range jars {
		if j.Certification.CoversQuality() {
			return true
		}
	}
	return false
}

// ValidateAssigned rejects the session if any jar is missing its
// certification type.
func ValidateAssigned(jars []JarDefinition) error {
	for _, j := range jars {
		if !j.Certification.Assigned() {
			return &ValidationError{
				Code:    "missing_certification_type",
				Message: "every jar definition must have a certification type before commit",
			}
		}
	}
	return nil
}
