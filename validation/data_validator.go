// Package validation checks user input and ingestion batches before they reach the
// registry core.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/giygas/drug-registry/entities"
	"github.com/giygas/drug-registry/knowledge"
	"github.com/giygas/drug-registry/normalize"
	"github.com/giygas/drug-registry/staging"
)

// Pre-compiled patterns, reused for every request.
var (
	// Search terms: letters in any script, digits, and the punctuation drug names use.
	inputRegex = regexp.MustCompile(`^[\p{L}\p{M}\p{N}\s\-\.\+'/(),%]+$`)

	registrationRegex = regexp.MustCompile(`^[\p{L}\p{N}\-/. ]*$`)

	// ICD-10 style codes: letter, two digits, optional dotted suffix.
	icdRegex = regexp.MustCompile(`^[A-Z][0-9]{2}(\.[0-9A-Z]{1,4})?$`)

	// Matched with strings.Contains on the lower-cased input.
	dangerousPatterns = []string{
		"<script", "</script>", "javascript:", "vbscript:", "onload=", "onerror=",
		"onclick=", "onmouseover=", "onfocus=", "onblur=", "onchange=", "onsubmit=",
		"eval(", "expression(", "url(", "import ", "@import", "binding(", "behavior(",
		// SQL injection
		"' or ", "\" or ", "union select", "drop table", "delete from", "insert into",
		"update set", "--", "/*", "*/", "xp_", "sp_", "exec(", "execute(",
		// Command injection
		"; ", "| ", "& ", "`", "$(", "${",
		// Path traversal
		"../", "..\\", "%2e%2e", "file://",
		// NoSQL injection
		"{$ne:", "{$gt:", "{$where:", "{$or:", "{$regex:", "{$expr:",
	}

	// Free-text fields legitimately contain ";", "|" and "--", so only markup and
	// script payloads are rejected there.
	markupPatterns = dangerousPatterns[:19]
)

// Field limits, in characters.
const (
	maxNameLength           = 200
	maxRegistrationLength   = 50
	maxActiveIngredient     = 500
	maxManufacturerLength   = 200
	maxIndicationLength     = 4000
	maxSynonymsLength       = 1000
	maxClassificationLength = 200
	maxNoteLength           = 2000
	maxDiseasesPerDrug      = 50
)

// DataValidatorImpl implements interfaces.SubmissionValidator.
type DataValidatorImpl struct{}

// NewDataValidator creates a new data validator.
func NewDataValidator() *DataValidatorImpl {
	return &DataValidatorImpl{}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", entities.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ValidateInput validates a free-text search term.
func (v *DataValidatorImpl) ValidateInput(input string) error {
	if strings.TrimSpace(input) == "" {
		return invalid("input cannot be empty")
	}

	n := utf8.RuneCountInString(input)
	if n < 2 {
		return invalid("input too short: minimum 2 characters")
	}
	if n > 100 {
		return invalid("input too long: maximum 100 characters")
	}

	// Many short words make the fuzzy strategies expensive.
	if len(strings.Fields(input)) > 12 {
		return invalid("search query too complex: maximum 12 words allowed")
	}

	if containsAny(input, dangerousPatterns) {
		return invalid("input contains potentially dangerous content")
	}

	if !inputRegex.MatchString(input) {
		return invalid("input contains invalid characters")
	}

	if v.hasExcessiveRepetition(input) {
		return invalid("input contains excessive character repetition")
	}

	return nil
}

// ValidateSubmission checks a candidate drug record and normalizes the ICD codes
// of its disease links in place.
func (v *DataValidatorImpl) ValidateSubmission(req *staging.SubmitRequest) error {
	if req == nil {
		return invalid("submission is nil")
	}

	f := req.Fields
	if strings.TrimSpace(f.Name) == "" {
		return invalid("drug name is required")
	}
	if normalize.Name(f.Name) == "" {
		return invalid("drug name has no letters or digits")
	}

	limits := []struct {
		field string
		value string
		max   int
	}{
		{"name", f.Name, maxNameLength},
		{"registrationNumber", f.RegistrationNumber, maxRegistrationLength},
		{"activeIngredient", f.ActiveIngredient, maxActiveIngredient},
		{"manufacturer", f.Manufacturer, maxManufacturerLength},
		{"indication", f.Indication, maxIndicationLength},
		{"synonyms", f.Synonyms, maxSynonymsLength},
		{"classification", f.Classification, maxClassificationLength},
		{"note", f.Note, maxNoteLength},
	}
	for _, l := range limits {
		if n := utf8.RuneCountInString(l.value); n > l.max {
			return invalid("%s too long: %d characters (maximum %d)", l.field, n, l.max)
		}
		if containsAny(l.value, markupPatterns) {
			return invalid("%s contains potentially dangerous content", l.field)
		}
	}

	if !registrationRegex.MatchString(strings.TrimSpace(f.RegistrationNumber)) {
		return invalid("registrationNumber contains invalid characters")
	}

	if len(req.Diseases) > maxDiseasesPerDrug {
		return invalid("too many diseases: %d (maximum %d)", len(req.Diseases), maxDiseasesPerDrug)
	}
	for i := range req.Diseases {
		code, err := v.ValidateICD(req.Diseases[i].ICDCode)
		if err != nil {
			return fmt.Errorf("disease %d: %w", i, err)
		}
		if utf8.RuneCountInString(req.Diseases[i].Name) > maxNameLength {
			return invalid("disease %d name too long", i)
		}
		req.Diseases[i].ICDCode = code
	}

	return nil
}

// ValidateICD checks a disease code and returns its stored form.
func (v *DataValidatorImpl) ValidateICD(input string) (string, error) {
	code := normalize.ICDCode(input)
	if code == "" {
		return "", invalid("disease code cannot be empty")
	}
	if !icdRegex.MatchString(code) {
		return "", invalid("invalid disease code %q", input)
	}
	return code, nil
}

// ValidateID parses a positive numeric identifier. strconv rejects anything that
// is not digits, so no regex is needed.
func (v *DataValidatorImpl) ValidateID(input string) (int64, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return -1, invalid("id cannot be empty")
	}
	if len(input) != len(trimmed) {
		return -1, invalid("id contains invalid characters")
	}

	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || id <= 0 {
		return -1, invalid("id must be a positive integer")
	}
	return id, nil
}

// ValidateObservation checks a knowledge-base observation.
func (v *DataValidatorImpl) ValidateObservation(obs *knowledge.Observation) error {
	if obs == nil {
		return invalid("observation is nil")
	}
	if normalize.Name(obs.DrugName) == "" {
		return invalid("drug name is required")
	}
	if utf8.RuneCountInString(obs.DrugName) > maxNameLength {
		return invalid("drug name too long")
	}
	if _, err := v.ValidateICD(obs.DiseaseICD); err != nil {
		return err
	}
	if strings.TrimSpace(obs.SecondaryDiseaseICD) != "" {
		if _, err := v.ValidateICD(obs.SecondaryDiseaseICD); err != nil {
			return fmt.Errorf("secondary disease: %w", err)
		}
	}
	for _, role := range []string{obs.TDVFeedback, obs.TreatmentType} {
		if utf8.RuneCountInString(role) > maxClassificationLength {
			return invalid("role too long")
		}
		if containsAny(role, markupPatterns) {
			return invalid("role contains potentially dangerous content")
		}
	}
	return nil
}

func containsAny(input string, patterns []string) bool {
	lower := strings.ToLower(input)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// hasExcessiveRepetition reports the same byte repeated more than 10 times in a row.
func (v *DataValidatorImpl) hasExcessiveRepetition(input string) bool {
	for i := 0; i < len(input)-10; i++ {
		allSame := true
		for j := 1; j <= 10; j++ {
			if input[i] != input[i+j] {
				allSame = false
				break
			}
		}
		if allSame {
			return true
		}
	}
	return false
}
