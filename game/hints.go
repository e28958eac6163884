package game

import (
	"strings"
	"time"
	"unicode"

	"geoquiz/models"

	"github.com/shopspring/decimal"
)

// HintSpec is the price of one hint kind. Guided hints also cost turn time.
type HintSpec struct {
	Kind        models.HintKind `json:"kind"`
	Cost        decimal.Decimal `json:"cost"`
	TimePenalty time.Duration   `json:"timePenalty"`
	Guided      bool            `json:"guided"`
}

var hintSpecs = map[models.HintKind]HintSpec{
	models.HintRevealLetter: {Kind: models.HintRevealLetter, Cost: decimal.NewFromInt(1)},
	models.HintFlag:         {Kind: models.HintFlag, Cost: decimal.NewFromInt(1)},
	models.HintFamousPerson: {Kind: models.HintFamousPerson, Cost: decimal.RequireFromString("0.5")},
	models.HintCapital:      {Kind: models.HintCapital, Cost: decimal.NewFromInt(1), TimePenalty: 5 * time.Second, Guided: true},
	models.HintFamousPlayer: {Kind: models.HintFamousPlayer, Cost: decimal.NewFromInt(1), TimePenalty: 10 * time.Second, Guided: true},
	models.HintFamousSinger: {Kind: models.HintFamousSinger, Cost: decimal.NewFromInt(1), TimePenalty: 10 * time.Second, Guided: true},
}

func LookupHint(kind models.HintKind) (HintSpec, bool) {
	spec, ok := hintSpecs[kind]
	return spec, ok
}

// CanUseHint reports whether a hint of kind is affordable and still
// available given the hints already used this turn.
func CanUseHint(used []models.HintKind, kind models.HintKind, balance decimal.Decimal) bool {
	spec, ok := hintSpecs[kind]
	if !ok {
		return false
	}
	if len(used) >= MaxTotalHints {
		return false
	}
	for _, u := range used {
		if u == kind {
			return false
		}
	}
	return balance.GreaterThanOrEqual(spec.Cost)
}

// ChargeHint returns the balance after paying for spec. Legacy hints clamp at
// zero; guided hints rely on the availability check instead.
func ChargeHint(spec HintSpec, balance decimal.Decimal) decimal.Decimal {
	next := balance.Sub(spec.Cost)
	if !spec.Guided && next.IsNegative() {
		return decimal.Zero
	}
	return next
}

// HintValue is what the acting player sees for a hint on country.
func HintValue(kind models.HintKind, country Country) string {
	switch kind {
	case models.HintRevealLetter:
		return MaskName(country.Name)
	case models.HintFlag:
		return country.Flag
	case models.HintFamousPerson:
		return country.FamousPerson
	case models.HintCapital:
		return country.Capital
	case models.HintFamousPlayer:
		return country.FamousPlayer
	case models.HintFamousSinger:
		return country.FamousSinger
	}
	return ""
}

// MaskName keeps the first letter and hides every other letter,
// e.g. "New Zealand" -> "N _ _   _ _ _ _ _ _ _".
func MaskName(name string) string {
	var b strings.Builder
	first := true
	for i, r := range []rune(name) {
		if i > 0 {
			b.WriteByte(' ')
		}
		switch {
		case unicode.IsLetter(r) && first:
			b.WriteRune(r)
			first = false
		case unicode.IsLetter(r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// UseHint charges the acting player and records the hint on the turn.
func UseHint(s *models.GameSession, playerID string, kind models.HintKind, catalog *Catalog) (string, error) {
	if err := requireActing(s, playerID); err != nil {
		return "", err
	}
	spec, ok := LookupHint(kind)
	if !ok {
		return "", ErrUnknownHint
	}
	ts := s.CurrentTurnState
	if ts == nil || ts.Country == nil {
		return "", ErrTurnNotStarted
	}
	player := s.Player(playerID)
	if !CanUseHint(ts.HintsUsed, kind, player.Score) {
		return "", ErrHintUnavailable
	}
	country, ok := catalog.Lookup(*ts.Country)
	if !ok {
		return "", ErrHintUnavailable
	}

	player.Score = ChargeHint(spec, player.Score)

	next := *ts
	next.HintsUsed = append(append([]models.HintKind(nil), ts.HintsUsed...), kind)
	if spec.TimePenalty > 0 {
		next.StartedAt = ts.StartedAt.Add(-spec.TimePenalty)
		if s.TurnStartTime != nil {
			shifted := s.TurnStartTime.Add(-spec.TimePenalty)
			s.TurnStartTime = &shifted
		}
	}
	s.CurrentTurnState = &next
	return HintValue(kind, country), nil
}
