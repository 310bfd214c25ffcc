package matching

import (
	"sort"
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

// phoneticBonus is added to a fuzzy score when the values sound alike but differ
const phoneticBonus = 0.1

// Similarity compares two normalized values. It returns false when either value
// is absent. Scores are symmetric and identical values score 1.
func (s *Scorer) Similarity(fieldType models.FieldType, algorithm models.Algorithm, a, b normalizers.Value) (float64, bool) {
	if a.Text == "" || b.Text == "" {
		return 0, false
	}
	if algorithm == "" {
		algorithm = models.DefaultAlgorithm(fieldType)
	}
	if a.ExactOnly || b.ExactOnly {
		algorithm = models.AlgorithmExact
	}

	var score float64
	switch algorithm {
	case models.AlgorithmExact:
		score = s.ExactMatch(a.Text, b.Text)
	case models.AlgorithmLevenshtein:
		score = symmetric(s.Levenshtein, a.Text, b.Text)
	case models.AlgorithmJaroWinkler:
		score = symmetric(s.JaroWinkler, a.Text, b.Text)
	case models.AlgorithmPhonetic:
		score = s.phonetic(a.Text, b.Text)
	default:
		score = s.fuzzy(a.Text, b.Text)
	}

	return clamp(score), true
}

func (s *Scorer) fuzzy(a, b string) float64 {
	score := max(symmetric(s.Levenshtein, a, b), symmetric(s.JaroWinkler, a, b))

	sa, sb := sortedTokens(a), sortedTokens(b)
	if sa != a || sb != b {
		score = max(score, symmetric(s.Levenshtein, sa, sb), symmetric(s.JaroWinkler, sa, sb))
	}

	if score < 1 && s.soundsAlike(a, b) {
		score += phoneticBonus
	}
	return min(score, 1)
}

func (s *Scorer) phonetic(a, b string) float64 {
	if a == b {
		return 1
	}
	if s.soundsAlike(a, b) {
		return 1
	}
	return 0
}

// soundsAlike compares Soundex and Metaphone codes token by token. Values
// without letters have no phonetic code and never sound alike.
func (s *Scorer) soundsAlike(a, b string) bool {
	soundexA, soundexB := s.codes(a, s.Soundex), s.codes(b, s.Soundex)
	if soundexA != "" && soundexA == soundexB {
		return true
	}
	metaA, metaB := s.codes(a, s.Metaphone), s.codes(b, s.Metaphone)
	return metaA != "" && metaA == metaB
}

func (s *Scorer) codes(v string, encode func(string) string) string {
	var parts []string
	for _, token := range strings.Fields(v) {
		if code := encode(token); code != "" {
			parts = append(parts, code)
		}
	}
	return strings.Join(parts, " ")
}

// symmetric evaluates fn with its arguments in a fixed order
func symmetric(fn func(a, b string) float64, a, b string) float64 {
	if b < a {
		a, b = b, a
	}
	return fn(a, b)
}

func sortedTokens(v string) string {
	tokens := strings.Fields(v)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
