package intent

import (
	"math"
	"strings"

	"github.com/policyqa/backend/internal/domain"
	"github.com/policyqa/backend/pkg/utils"
)

const (
	maxConfidence       = 0.95
	noCueConfidence     = 0.2
	defaultLowThreshold = 0.5
)

type cue struct {
	phrase []string
	weight float64
	// leading cues only count at the start of the question.
	leading bool
}

func c(phrase string, weight float64) cue {
	return cue{phrase: strings.Fields(phrase), weight: weight}
}

func lead(phrase string, weight float64) cue {
	return cue{phrase: strings.Fields(phrase), weight: weight, leading: true}
}

var defaultCues = map[domain.IntentLabel][]cue{
	domain.IntentDefinition: {
		lead("what is", 0.6), lead("what are", 0.5), lead("what does", 0.3), lead("define", 0.9),
		c("definition", 0.8), c("define", 0.6), c("meaning", 0.7), c("mean", 0.5),
		c("stand for", 0.9), c("refers to", 0.6), c("term", 0.4), c("acronym", 0.6),
	},
	domain.IntentProcedural: {
		lead("how do", 0.7), lead("how does", 0.4), lead("how can", 0.6), lead("how to", 0.8),
		c("steps", 0.8), c("process", 0.6), c("procedure", 0.8), c("submit", 0.6),
		c("request", 0.4), c("apply", 0.5), c("approval", 0.4), c("timeline", 0.4),
		c("required to", 0.5), c("what happens", 0.5),
	},
	domain.IntentOrganizationalRole: {
		lead("who", 0.7), c("responsible", 0.7), c("report to", 0.9), c("reports to", 0.9),
		c("oversees", 0.8), c("oversee", 0.8), c("administers", 0.8), c("administer", 0.7),
		c("authority", 0.6), c("role", 0.6), c("delegate", 0.6), c("delegated", 0.6),
		c("approves", 0.5), c("manages", 0.5), c("lead", 0.3), c("leads", 0.4),
	},
	domain.IntentFactualLookup: {
		lead("when", 0.6), lead("where", 0.6), lead("which", 0.4), lead("how many", 0.8),
		lead("how much", 0.8), lead("is there", 0.4), lead("are there", 0.4),
		c("amount", 0.5), c("date", 0.5), c("threshold", 0.5), c("limit", 0.5),
		c("number", 0.4), c("list", 0.4), c("table", 0.5),
	},
}

// Classifier is a weighted cue-phrase policy over the fixed label set. The
// cue table is immutable after construction.
type Classifier struct {
	cues          map[domain.IntentLabel][]cue
	lowConfidence float64
}

func NewClassifier(lowConfidence float64) *Classifier {
	if lowConfidence <= 0 {
		lowConfidence = defaultLowThreshold
	}
	return &Classifier{cues: defaultCues, lowConfidence: lowConfidence}
}

// Classify always returns a label. With no cue at all it guesses
// factual_lookup and marks the result uncertain.
func (c *Classifier) Classify(question string) domain.Intent {
	tokens := utils.LowerAll(utils.Tokenize(question))

	scores := make(map[domain.IntentLabel]float64, len(domain.IntentLabels))
	for label, cues := range c.cues {
		for _, cu := range cues {
			if matches(tokens, cu) {
				scores[label] += cu.weight
			}
		}
	}

	// Ties keep the earlier label in IntentLabels order.
	best := domain.IntentFactualLookup
	bestScore, secondScore := 0.0, 0.0
	for _, label := range domain.IntentLabels {
		s := scores[label]
		switch {
		case s > bestScore:
			secondScore = bestScore
			best, bestScore = label, s
		case s > secondScore:
			secondScore = s
		}
	}

	if bestScore == 0 {
		return domain.Intent{Label: domain.IntentFactualLookup, Confidence: noCueConfidence, Uncertain: true}
	}

	margin := (bestScore - secondScore) / bestScore
	confidence := (0.5 + 0.5*margin) * math.Min(1, bestScore)
	confidence = math.Min(maxConfidence, confidence)

	return domain.Intent{
		Label:      best,
		Confidence: confidence,
		Uncertain:  confidence < c.lowConfidence,
	}
}

func matches(tokens []string, cu cue) bool {
	n := len(cu.phrase)
	if n == 0 || n > len(tokens) {
		return false
	}
	if cu.leading {
		return equalAt(tokens, 0, cu.phrase)
	}
	for i := 0; i+n <= len(tokens); i++ {
		if equalAt(tokens, i, cu.phrase) {
			return true
		}
	}
	return false
}

func equalAt(tokens []string, at int, phrase []string) bool {
	for k, w := range phrase {
		if tokens[at+k] != w {
			return false
		}
	}
	return true
}
