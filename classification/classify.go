// Package classification maps free-text role strings to a (category, validity) pair.
// The same rule table serves consultation answers and ingestion parsing.
package classification

import (
	"strings"

	"github.com/giygas/drug-registry/normalize"
)

type Category string

const (
	CategoryDrug   Category = "drug"
	CategoryNoDrug Category = "nodrug"
)

type Validity string

const (
	ValidityValid   Validity = "valid"
	ValidityInvalid Validity = "invalid"
	ValidityNone    Validity = ""
)

// Result is the classification of a role. Role is the cleaned input.
type Result struct {
	Category Category `json:"category"`
	Validity Validity `json:"validity"`
	Role     string   `json:"role"`
}

// Keys are normalize.Name forms.
var nonDrugRoles = map[string]struct{}{
	"supplement":          {},
	"supplements":         {},
	"medical supplies":    {},
	"medical supply":      {},
	"cosmeceutical":       {},
	"cosmeceuticals":      {},
	"medical equipment":   {},
	"nodrug":              {},
	"thuc pham chuc nang": {},
	"vat tu y te":         {},
	"my pham":             {},
	"thiet bi y te":       {},
}

var drugRoles = map[string]struct{}{
	"main drug":      {},
	"secondary drug": {},
	"thuoc chinh":    {},
	"thuoc ho tro":   {},
}

var invalidMarkers = []string{"invalid", "khong hop le"}

type rule struct {
	name  string
	match func(norm string) bool
	apply func(role string) Result
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{
		name:  "empty",
		match: func(norm string) bool { return norm == "" },
		apply: func(string) Result { return Result{Category: CategoryDrug, Validity: ValidityInvalid} },
	},
	{
		name:  "non-drug",
		match: inSet(nonDrugRoles),
		apply: func(role string) Result { return Result{Category: CategoryNoDrug, Validity: ValidityNone, Role: role} },
	},
	{
		name:  "drug role",
		match: inSet(drugRoles),
		apply: func(role string) Result { return Result{Category: CategoryDrug, Validity: ValidityValid, Role: role} },
	},
	{
		name: "invalid marker",
		match: func(norm string) bool {
			for _, m := range invalidMarkers {
				if strings.Contains(norm, m) {
					return true
				}
			}
			return false
		},
		apply: func(role string) Result { return Result{Category: CategoryDrug, Validity: ValidityInvalid, Role: role} },
	},
	{
		name:  "default",
		match: func(string) bool { return true },
		apply: func(role string) Result { return Result{Category: CategoryDrug, Validity: ValidityValid, Role: role} },
	},
}

func inSet(set map[string]struct{}) func(string) bool {
	return func(norm string) bool {
		_, ok := set[norm]
		return ok
	}
}

// Classify cleans role and resolves it through the rule table. Unknown roles fall
// through to (drug, valid).
func Classify(role string) Result {
	cleaned := Clean(role)
	norm := normalize.Name(cleaned)
	for _, r := range rules {
		if r.match(norm) {
			return r.apply(cleaned)
		}
	}
	// unreachable: the default rule always matches
	return Result{Category: CategoryDrug, Validity: ValidityValid, Role: cleaned}
}

// IsNoDrug reports whether role names a non-drug product.
func IsNoDrug(role string) bool {
	return Classify(role).Category == CategoryNoDrug
}
