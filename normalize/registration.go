package normalize

import "strings"

// Registration numbers that scrapers and importers use for "none". They never
// identify a product and must not take part in conflict detection.
var registrationSentinels = map[string]struct{}{
	"":              {},
	"0":             {},
	"n a":           {},
	"na":            {},
	"none":          {},
	"null":          {},
	"nil":           {},
	"unknown":       {},
	"khong":         {},
	"khong co":      {},
	"chua co":       {},
	"dang cap nhat": {},
}

// IsSentinelRegistration reports whether s is a placeholder registration number.
func IsSentinelRegistration(s string) bool {
	_, ok := registrationSentinels[registrationKey(s)]
	return ok
}

// RegistrationNumber returns the stored form of a registration number: trimmed,
// upper-cased, inner whitespace collapsed, and "" for sentinel values.
func RegistrationNumber(s string) string {
	cleaned := strings.ToUpper(strings.Join(strings.Fields(s), " "))
	if IsSentinelRegistration(cleaned) {
		return ""
	}
	return cleaned
}

// registrationKey compares in the accent-free form, so "Đang cập nhật" and "N/A"
// hit the table.
func registrationKey(s string) string {
	return Name(s)
}
