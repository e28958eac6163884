package game

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type MatchClass string

const (
	MatchExact   MatchClass = "exact"
	MatchClose   MatchClass = "close"
	MatchWrong   MatchClass = "wrong"
	MatchSkipped MatchClass = "skipped"
	MatchTimeout MatchClass = "timeout"
)

const (
	PointsExact = 3
	PointsClose = 2
)

// GuessScore is the classification of one free-text guess.
type GuessScore struct {
	Class    MatchClass `json:"class"`
	Points   int        `json:"points"`
	Distance int        `json:"distance"`
}

func (g GuessScore) Correct() bool {
	return g.Class == MatchExact || g.Class == MatchClose
}

// Scorer maps normalized aliases to normalized canonical names before
// measuring edit distance.
type Scorer struct {
	aliases map[string]string
}

func NewScorer(aliases map[string]string) *Scorer {
	if aliases == nil {
		aliases = map[string]string{}
	}
	return &Scorer{aliases: aliases}
}

func (s *Scorer) canonical(text string) string {
	n := Normalize(text)
	if c, ok := s.aliases[n]; ok {
		return c
	}
	return n
}

func (s *Scorer) Score(guess, target string) GuessScore {
	g := s.canonical(guess)
	t := s.canonical(target)
	if g == "" {
		return GuessScore{Class: MatchWrong, Distance: len([]rune(t))}
	}
	d := levenshtein.ComputeDistance(g, t)
	switch {
	case d == 0:
		return GuessScore{Class: MatchExact, Points: PointsExact}
	case d <= 1:
		return GuessScore{Class: MatchClose, Points: PointsClose, Distance: d}
	default:
		return GuessScore{Class: MatchWrong, Distance: d}
	}
}

// ScoreGuess scores against the built-in catalog's alias table.
func ScoreGuess(guess, target string) GuessScore {
	return defaultCatalog.Score(guess, target)
}

// Normalize case-folds, strips diacritics and collapses whitespace.
func Normalize(text string) string {
	// transformers keep state, so one is built per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		folded = text
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
