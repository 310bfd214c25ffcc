package matching

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// Scorer provides various string comparison algorithms. All scores are in [0, 1].
type Scorer struct{}

// NewScorer creates a new Scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// ExactMatch returns 1.0 for exact match, 0.0 otherwise. Values arrive
// normalized, so the comparison is case sensitive.
func (s *Scorer) ExactMatch(a, b string) float64 {
	if a == b {
		return 1.0
	}
	return 0.0
}

// JaroWinkler calculates the Jaro-Winkler similarity between two strings
// Returns a value between 0.0 (no similarity) and 1.0 (exact match)
func (s *Scorer) JaroWinkler(a, b string) float64 {
	if a == b {
		return 1.0
	}

	ra, rb := []rune(a), []rune(b)
	jaro := jaro(ra, rb)

	// Winkler modification: boost for common prefix
	prefixLen := 0
	maxPrefix := 4
	for i := 0; i < len(ra) && i < len(rb) && i < maxPrefix; i++ {
		if ra[i] != rb[i] {
			break
		}
		prefixLen++
	}

	// Winkler scaling factor is typically 0.1
	scalingFactor := 0.1
	return jaro + float64(prefixLen)*scalingFactor*(1.0-jaro)
}

// Jaro calculates the Jaro similarity between two strings
func (s *Scorer) Jaro(a, b string) float64 {
	if a == b {
		return 1.0
	}
	return jaro([]rune(a), []rune(b))
}

func jaro(a, b []rune) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	// Maximum distance for character matching
	matchDist := max(len(a), len(b))/2 - 1
	if matchDist < 0 {
		matchDist = 0
	}

	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))

	matches := 0
	for i := 0; i < len(a); i++ {
		start := max(0, i-matchDist)
		end := min(len(b), i+matchDist+1)

		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := 0; i < len(a); i++ {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2

	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}

// Levenshtein returns 1 - distance/max(len) over runes
func (s *Scorer) Levenshtein(a, b string) float64 {
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(s.LevenshteinDistance(a, b))/float64(maxLen)
}

// LevenshteinDistance calculates the edit distance between two strings
func (s *Scorer) LevenshteinDistance(a, b string) int {
	return levenshtein.ComputeDistance(a, b)
}

// Soundex calculates the Soundex encoding of a word. Non-letters are ignored.
func (s *Scorer) Soundex(str string) string {
	letters := []rune{}
	for _, r := range strings.ToUpper(str) {
		if unicode.IsLetter(r) {
			letters = append(letters, r)
		}
	}
	if len(letters) == 0 {
		return ""
	}

	var result strings.Builder
	result.WriteRune(letters[0])
	prevCode := soundexCode(letters[0])
	n := 1

	for _, char := range letters[1:] {
		if n >= 4 {
			break
		}
		code := soundexCode(char)
		if code != '0' && code != prevCode {
			result.WriteByte(code)
			n++
		}
		prevCode = code
	}

	for ; n < 4; n++ {
		result.WriteByte('0')
	}

	return result.String()
}

// soundexCode returns the Soundex code for a character
func soundexCode(char rune) byte {
	switch char {
	case 'B', 'F', 'P', 'V':
		return '1'
	case 'C', 'G', 'J', 'K', 'Q', 'S', 'X', 'Z':
		return '2'
	case 'D', 'T':
		return '3'
	case 'L':
		return '4'
	case 'M', 'N':
		return '5'
	case 'R':
		return '6'
	default:
		return '0'
	}
}

// Metaphone calculates a simplified Metaphone encoding
func (s *Scorer) Metaphone(str string) string {
	word := []rune{}
	for _, char := range strings.ToUpper(str) {
		if unicode.IsLetter(char) {
			word = append(word, char)
		}
	}
	if len(word) == 0 {
		return ""
	}

	// Simplified Metaphone - just using first few consonants
	var metaphone strings.Builder
	prevCode := rune(0)
	n := 0

	for i := 0; i < len(word) && n < 6; i++ {
		code := metaphoneCode(word, i)
		if code != 0 && code != prevCode {
			metaphone.WriteRune(code)
			prevCode = code
			n++
		}
	}

	return metaphone.String()
}

// metaphoneCode returns the Metaphone code for the character at pos
func metaphoneCode(word []rune, pos int) rune {
	char := word[pos]
	next := rune(0)
	if pos+1 < len(word) {
		next = word[pos+1]
	}

	switch char {
	case 'A', 'E', 'I', 'O', 'U':
		if pos == 0 {
			return char
		}
		return 0
	case 'C':
		if next == 'I' || next == 'E' || next == 'Y' {
			return 'S'
		}
		return 'K'
	case 'D':
		return 'T'
	case 'G':
		return 'J'
	case 'H', 'W', 'Y':
		return 0
	case 'P':
		if next == 'H' {
			return 'F'
		}
		return 'P'
	case 'Q':
		return 'K'
	case 'V':
		return 'F'
	case 'X', 'Z':
		return 'S'
	case 'B', 'F', 'J', 'K', 'L', 'M', 'N', 'R', 'S', 'T':
		return char
	default:
		if char > unicode.MaxASCII {
			return char
		}
		return 0
	}
}
