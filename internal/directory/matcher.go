package directory

import (
	"context"
	"strings"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"
)

// NameMatch is a potential blacklist match found by fuzzy screening.
// Potential matches inform reviewers; only exact hits drive decisions.
type NameMatch struct {
	Entry      *Entry  `json:"entry"`
	Similarity float64 `json:"similarity"`
}

// FuzzyMatcher screens free-text identifiers (user names, document numbers)
// against blacklist entries using Levenshtein similarity, catching the
// one-character spelling variants exact lookup misses.
type FuzzyMatcher struct {
	logger    *zap.SugaredLogger
	dir       *Directory
	threshold float64
}

// NewFuzzyMatcher creates a matcher over the directory. A threshold of 0
// defaults to 0.85, which tolerates roughly one edit per seven characters.
func NewFuzzyMatcher(dir *Directory, threshold float64, logger *zap.SugaredLogger) *FuzzyMatcher {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.85
	}
	return &FuzzyMatcher{logger: logger, dir: dir, threshold: threshold}
}

// Screen returns blacklist entries of the given entity type whose normalized
// value is similar to the query above the configured threshold, best first.
func (fm *FuzzyMatcher) Screen(ctx context.Context, entityType EntityType, query string) ([]NameMatch, error) {
	normalized := Normalize(entityType, query)
	if normalized == "" {
		return nil, nil
	}

	entries, err := fm.dir.List(ctx, ListKindBlacklist, entityType)
	if err != nil {
		return nil, err
	}

	var matches []NameMatch
	for _, e := range entries {
		sim := similarity(normalized, e.NormalizedValue)
		if sim >= fm.threshold {
			matches = append(matches, NameMatch{Entry: e, Similarity: sim})
		}
	}

	// Insertion sort, best similarity first. Match lists are tiny.
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Similarity > matches[j-1].Similarity; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}

	if len(matches) > 0 {
		fm.logger.Infow("fuzzy screening found potential matches",
			"entity_type", entityType,
			"candidates", len(matches),
			"best_similarity", matches[0].Similarity)
	}
	return matches, nil
}

// similarity maps Levenshtein distance into [0,1], 1 being identical.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(strings.ToLower(a), strings.ToLower(b))
	return 1 - float64(dist)/float64(longest)
}
