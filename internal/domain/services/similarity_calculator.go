package services

import (
	"math"
)

// SimilarityAlgorithm defines the algorithm used to compare keyword sets.
type SimilarityAlgorithm string

const (
	AlgorithmJaccard SimilarityAlgorithm = "jaccard"
	AlgorithmCosine  SimilarityAlgorithm = "cosine"
	AlgorithmHybrid  SimilarityAlgorithm = "hybrid"
)

// SimilarityConfig configures the similarity calculation.
type SimilarityConfig struct {
	Algorithm     SimilarityAlgorithm
	MinWordLength int // Minimum word length to consider
}

// DefaultSimilarityConfig returns a balanced default configuration.
func DefaultSimilarityConfig() *SimilarityConfig {
	return &SimilarityConfig{
		Algorithm:     AlgorithmHybrid,
		MinWordLength: 3,
	}
}

// SimilarityCalculator scores the similarity of two pieces of content on a
// 0.0 to 1.0 scale. It is the grouping metric used by the consolidation
// engine and the lookup metric used by the episodic store.
type SimilarityCalculator struct {
	config *SimilarityConfig
}

// NewSimilarityCalculator creates a calculator, falling back to defaults when
// config is nil.
func NewSimilarityCalculator(config *SimilarityConfig) *SimilarityCalculator {
	if config == nil {
		config = DefaultSimilarityConfig()
	}
	return &SimilarityCalculator{config: config}
}

// Compare scores two raw content strings.
func (sc *SimilarityCalculator) Compare(content1, content2 string) float64 {
	return sc.CompareSets(KeywordSet(ExtractKeywords(content1)), KeywordSet(ExtractKeywords(content2)))
}

// CompareSets scores two pre-extracted keyword sets.
func (sc *SimilarityCalculator) CompareSets(set1, set2 map[string]bool) float64 {
	if len(set1) == 0 && len(set2) == 0 {
		return 0.0
	}

	switch sc.config.Algorithm {
	case AlgorithmJaccard:
		return jaccardSimilarity(set1, set2)
	case AlgorithmCosine:
		return cosineSimilarity(set1, set2)
	case AlgorithmHybrid:
		return (jaccardSimilarity(set1, set2) + cosineSimilarity(set1, set2)) / 2.0
	default:
		return jaccardSimilarity(set1, set2)
	}
}

// jaccardSimilarity calculates the Jaccard index: |A ∩ B| / |A ∪ B|.
func jaccardSimilarity(set1, set2 map[string]bool) float64 {
	intersection := 0
	union := make(map[string]bool, len(set1)+len(set2))

	for key := range set1 {
		union[key] = true
		if set2[key] {
			intersection++
		}
	}
	for key := range set2 {
		union[key] = true
	}

	if len(union) == 0 {
		return 0.0
	}

	return float64(intersection) / float64(len(union))
}

// cosineSimilarity treats the sets as binary vectors.
func cosineSimilarity(set1, set2 map[string]bool) float64 {
	if len(set1) == 0 || len(set2) == 0 {
		return 0.0
	}

	dotProduct := 0
	for key := range set1 {
		if set2[key] {
			dotProduct++
		}
	}

	magnitude1 := math.Sqrt(float64(len(set1)))
	magnitude2 := math.Sqrt(float64(len(set2)))

	if magnitude1 == 0 || magnitude2 == 0 {
		return 0.0
	}

	return float64(dotProduct) / (magnitude1 * magnitude2)
}
