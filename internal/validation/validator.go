// Package validation scores candidate records before they are persisted.
package validation

import (
	"time"

	"github.com/cloudflare/ahocorasick"

	"TenderScanner/internal/domain"
	"TenderScanner/internal/textutil"
)

// MinObjectLength is the object length below which an unnumbered candidate
// is treated as a navigation fragment.
const MinObjectLength = 10

// Quality weights; they sum to 100.
const (
	weightNumber      = 25
	weightObjectLong  = 25
	weightObjectShort = 12
	weightPublication = 15
	weightOpening     = 15
	weightValue       = 10
	weightModality    = 10

	longObject = 30
)

// Relevance weights.
const (
	keywordPoints    = 15
	keywordCap       = 60
	recentPubPoints  = 20
	nearOpenPoints   = 20
	pubLookback      = 2
	pubLookahead     = 30 * 24 * time.Hour
	openingWindowYrs = 1
)

// domainKeywords are accent-folded terms of school procurement.
var domainKeywords = []string{
	"escola",
	"educacao",
	"ensino",
	"creche",
	"merenda",
	"alimentacao",
	"uniforme",
	"material didatico",
	"livro",
	"transporte de alunos",
	"transporte escolar",
	"mobiliario",
	"carteira",
	"informatica",
	"computador",
	"laboratorio",
	"reforma",
	"construcao",
	"quadra",
	"pedagogic",
	"professor",
	"aluno",
}

var keywordMatcher = ahocorasick.NewStringMatcher(domainKeywords)

// Score computes the deterministic quality and relevance verdict of c,
// judging date plausibility against ref.
func Score(c domain.CandidateRecord, ref time.Time) domain.ValidationReport {
	return domain.ValidationReport{
		QualityScore:   clamp(quality(c)),
		RelevanceScore: clamp(relevance(c, ref)),
		IsRelevant:     !(!c.HasTenderNumber() && c.ObjectLength() < MinObjectLength),
	}
}

func quality(c domain.CandidateRecord) int {
	score := 0
	if c.HasTenderNumber() {
		score += weightNumber
	}
	switch n := c.ObjectLength(); {
	case n >= longObject:
		score += weightObjectLong
	case n >= MinObjectLength:
		score += weightObjectShort
	}
	if c.PublicationDate != nil {
		score += weightPublication
	}
	if c.OpeningDate != nil {
		score += weightOpening
	}
	if c.EstimatedValue != nil {
		score += weightValue
	}
	if !domain.IsNotInformed(c.Modality) {
		score += weightModality
	}
	return score
}

func relevance(c domain.CandidateRecord, ref time.Time) int {
	score := 0
	if c.ObjectLength() > 0 {
		score += min(KeywordHits(c.Object)*keywordPoints, keywordCap)
	}
	if p := c.PublicationDate; p != nil {
		if !p.Before(ref.AddDate(-pubLookback, 0, 0)) && !p.After(ref.Add(pubLookahead)) {
			score += recentPubPoints
		}
	}
	if o := c.OpeningDate; o != nil {
		if !o.Before(ref.AddDate(-openingWindowYrs, 0, 0)) && !o.After(ref.AddDate(openingWindowYrs, 0, 0)) {
			score += nearOpenPoints
		}
	}
	return score
}

// KeywordHits counts distinct domain keywords present in text.
func KeywordHits(text string) int {
	hits := keywordMatcher.MatchThreadSafe([]byte(textutil.Fold(text)))
	seen := make(map[int]struct{}, len(hits))
	for _, h := range hits {
		seen[h] = struct{}{}
	}
	return len(seen)
}

func clamp(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

// Validator scores candidates against a clock so tests can pin "now".
type Validator struct {
	now func() time.Time
}

// New returns a validator using the wall clock.
func New() *Validator {
	return &Validator{now: time.Now}
}

// NewWithClock returns a validator reading time from now.
func NewWithClock(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{now: now}
}

// Validate scores c relative to the validator's clock.
func (v *Validator) Validate(c domain.CandidateRecord) domain.ValidationReport {
	return Score(c, v.now())
}
