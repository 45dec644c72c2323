package selector

import (
	"strings"

	"github.com/taskweave/taskweave/pkg/capability"
)

// Keyword weights for the deterministic fallback matcher. Name tokens carry
// the most signal, then tags, when-to-use text, and description.
const (
	weightName      = 3.0
	weightTag       = 2.5
	weightWhenToUse = 2.0
	weightDesc      = 1.0
)

const minKeywordLen = 4

type keywordMatch struct {
	spec       *capability.Spec
	score      float64
	maxKeyword int
}

// matchByKeywords is the deterministic fallback when the completion service
// is unavailable or below the floor confidence. Longer, more specific
// keyword hits outrank shorter ones; registration order breaks ties.
func matchByKeywords(input string, specs []capability.Spec) *capability.Spec {
	lowered := strings.ToLower(input)

	var best *keywordMatch
	for i := range specs {
		m := scoreSpec(lowered, &specs[i])
		if m == nil {
			continue
		}
		// Strict comparisons keep the first (registration order) winner on
		// ties.
		if best == nil ||
			m.maxKeyword > best.maxKeyword ||
			(m.maxKeyword == best.maxKeyword && m.score > best.score) {
			best = m
		}
	}
	if best == nil {
		return nil
	}
	return best.spec
}

func scoreSpec(loweredInput string, spec *capability.Spec) *keywordMatch {
	m := keywordMatch{spec: spec}

	addHits(&m, loweredInput, nameTokens(spec.Name), weightName)
	addHits(&m, loweredInput, spec.Tags, weightTag)
	addHits(&m, loweredInput, strings.Fields(spec.WhenToUse), weightWhenToUse)
	addHits(&m, loweredInput, strings.Fields(spec.Description), weightDesc)

	if m.maxKeyword == 0 {
		return nil
	}
	return &m
}

func addHits(m *keywordMatch, loweredInput string, keywords []string, weight float64) {
	for _, kw := range keywords {
		kw = strings.Trim(strings.ToLower(kw), ".,;:!?\"'")
		if len(kw) < minKeywordLen {
			continue
		}
		if strings.Contains(loweredInput, kw) {
			m.score += weight * float64(len(kw))
			if len(kw) > m.maxKeyword {
				m.maxKeyword = len(kw)
			}
		}
	}
}

func nameTokens(name string) []string {
	return strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
}
