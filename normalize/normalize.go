// Package normalize turns free-text drug and disease names into the ASCII matching key
// used by every lookup in the registry.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripAccents decomposes, drops combining marks and recomposes.
var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// đ has no decomposition, so it is mapped by hand before accent stripping.
var letterReplacer = strings.NewReplacer("đ", "d", "Đ", "d", "ð", "d", "ø", "o", "ß", "ss", "æ", "ae", "œ", "oe")

// Name returns the canonical matching key: lower-case ASCII letters and digits
// separated by single spaces.
func Name(s string) string {
	if s == "" {
		return ""
	}

	folded := letterReplacer.Replace(strings.ToLower(s))
	folded, _, err := transform.String(stripAccents, folded)
	if err != nil {
		folded = strings.ToLower(s)
	}

	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	for _, r := range folded {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}

	return b.String()
}

// Tokens splits the normalized form of s on whitespace.
func Tokens(s string) []string {
	return strings.Fields(Name(s))
}

// Bigrams joins adjacent tokens with a space.
func Bigrams(tokens []string) []string {
	if len(tokens) < 2 {
		return nil
	}
	out := make([]string, 0, len(tokens)-1)
	for i := 0; i+1 < len(tokens); i++ {
		out = append(out, tokens[i]+" "+tokens[i+1])
	}
	return out
}

// ICDCode upper-cases and trims a disease code.
func ICDCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
