// Package normalizers canonicalizes raw field values before they are compared
package normalizers

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds all registered normalizers
var registry = make(map[string]Normalizer)

func init() {
	Register("lowercase", Lowercase)
	Register("uppercase", Uppercase)
	Register("trim", Trim)
	Register("nphone", NormalizePhone)
	Register("nemail", NormalizeEmail)
	Register("remove_whitespace", RemoveWhitespace)
	Register("remove_punctuation", RemovePunctuation)
	Register("nname", NormalizeName)
	Register("ncompany", NormalizeCompany)
	Register("naddress", NormalizeAddress)
	Register("fold_accents", FoldAccents)
	Register("digits_only", DigitsOnly)
	Register("alphanumeric", Alphanumeric)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Uppercase converts string to uppercase
func Uppercase(s string) string {
	return strings.ToUpper(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldAccents strips combining marks, so "Café" becomes "Cafe"
func FoldAccents(s string) string {
	out, _, err := transform.String(accentFolder, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizePhone keeps the last ten digits of a phone number
func NormalizePhone(s string) string {
	digits := DigitsOnly(s)
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return digits
}

// NormalizeEmail normalizes an email address (lowercase, trim)
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

var emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// IsEmailShaped reports whether s looks like local@domain.tld
func IsEmailShaped(s string) bool {
	return emailShape.MatchString(s)
}

// RemoveWhitespace removes all whitespace characters
func RemoveWhitespace(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsSpace(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// RemovePunctuation removes all punctuation characters
func RemovePunctuation(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsPunct(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// CollapseWhitespace trims and squeezes runs of whitespace to one space
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cleanWords lowercases, folds accents, drops apostrophes, turns other
// punctuation into spaces and splits into words.
func cleanWords(s string) []string {
	s = strings.ToLower(FoldAccents(s))

	var result strings.Builder
	for _, r := range s {
		switch {
		case r == '\'' || r == '’':
		case r == '&':
			result.WriteString(" & ")
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			result.WriteRune(r)
		default:
			result.WriteRune(' ')
		}
	}
	return strings.Fields(result.String())
}

func dropWords(words []string, drop map[string]bool) []string {
	kept := words[:0]
	for _, w := range words {
		if !drop[w] {
			kept = append(kept, w)
		}
	}
	return kept
}

var nameSuffixes = map[string]bool{
	"jr": true, "sr": true, "ii": true, "iii": true, "iv": true, "phd": true, "md": true,
}

// NormalizeName normalizes a person's name for matching
// - Lowercase and fold accents
// - Remove punctuation and extra whitespace
// - Remove generational and professional suffixes (Jr., III, PhD, ...)
func NormalizeName(s string) string {
	words := cleanWords(s)
	words = dropWords(words, map[string]bool{"&": true})
	for len(words) > 1 && nameSuffixes[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

var companyNoise = map[string]bool{
	"llc": true, "inc": true, "corp": true, "co": true, "ltd": true,
	"incorporated": true, "corporation": true, "company": true, "limited": true,
	"the": true, "and": true, "&": true,
}

// NormalizeCompany normalizes a business name, dropping legal suffixes and stopwords
func NormalizeCompany(s string) string {
	words := dropWords(cleanWords(s), companyNoise)
	return strings.Join(words, " ")
}

var addressAbbreviations = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"boulevard": "blvd",
	"drive":     "dr",
	"road":      "rd",
	"lane":      "ln",
	"court":     "ct",
	"circle":    "cir",
	"place":     "pl",
	"apartment": "apt",
	"suite":     "ste",
	"north":     "n",
	"south":     "s",
	"east":      "e",
	"west":      "w",
	"highway":   "hwy",
	"parkway":   "pkwy",
}

// NormalizeAddress normalizes an address string, abbreviating whole words only
func NormalizeAddress(s string) string {
	words := cleanWords(s)
	for i, w := range words {
		if abbr, ok := addressAbbreviations[w]; ok {
			words[i] = abbr
		}
	}
	return strings.Join(dropWords(words, map[string]bool{"&": true}), " ")
}

// NormalizeText lowercases, trims and collapses whitespace
func NormalizeText(s string) string {
	return CollapseWhitespace(strings.ToLower(s))
}

// DigitsOnly keeps only digit characters
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Alphanumeric keeps only alphanumeric characters
func Alphanumeric(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
