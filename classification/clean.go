package classification

import "strings"

const wrapperChars = "[]{}()\"' \t\r\n"

// Clean strips serialization artifacts from a role string: surrounding brackets,
// braces and quotes, every list element or object field after the first, and a
// "key: value" prefix. It is idempotent.
func Clean(role string) string {
	s := role
	for {
		next := cleanOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func cleanOnce(s string) string {
	s = strings.Trim(s, wrapperChars)
	// The first element has to be cut before the key, or a later field's value wins.
	if i := strings.Index(s, ","); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	return strings.Trim(s, wrapperChars)
}

// ParseClassification reads the raw classification column of an ingestion row,
// e.g. "main drug - valid", "['supplement']" or {"role": "secondary drug"}. An
// explicit validity suffix overrides the table for drug roles.
func ParseClassification(raw string) Result {
	role, hint := splitValidity(Clean(raw))
	res := Classify(role)
	if res.Category == CategoryDrug && res.Role != "" {
		switch Validity(hint) {
		case ValidityValid:
			res.Validity = ValidityValid
		case ValidityInvalid:
			res.Validity = ValidityInvalid
		}
	}
	return res
}

// Label is the role string to persist for r. It carries an explicit validity
// suffix whenever the role alone would classify differently, so that
// ParseClassification(r.Label()) reproduces r.
func (r Result) Label() string {
	if r.Category != CategoryDrug || r.Role == "" {
		return r.Role
	}
	if Classify(r.Role).Validity == r.Validity {
		return r.Role
	}
	return r.Role + " - " + string(r.Validity)
}

// splitValidity separates a trailing "valid"/"invalid" marker from the role.
func splitValidity(s string) (string, string) {
	for _, sep := range []string{" - ", " | ", "/"} {
		i := strings.LastIndex(s, sep)
		if i < 0 {
			continue
		}
		hint := strings.ToLower(strings.TrimSpace(s[i+len(sep):]))
		if hint == string(ValidityValid) || hint == string(ValidityInvalid) {
			return strings.TrimSpace(s[:i]), hint
		}
	}
	return s, ""
}
