package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			"filters stop words and short tokens",
			"I went to the gym at 6 AM",
			[]string{"gym", "went"},
		},
		{
			"lowercases and strips punctuation",
			"Deployed the API-Gateway, again!",
			[]string{"api", "deployed", "gateway"},
		},
		{
			"deduplicates and sorts",
			"kafka topics and kafka partitions",
			[]string{"kafka", "partitions", "topics"},
		},
		{
			"empty input",
			"",
			[]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractKeywords(tt.content))
		})
	}
}

func TestCompareBounds(t *testing.T) {
	calc := NewSimilarityCalculator(nil)

	assert.Equal(t, 0.0, calc.Compare("", ""))
	assert.Equal(t, 0.0, calc.Compare("postgres tuning", "holiday itinerary"))
	assert.InDelta(t, 1.0, calc.Compare("postgres tuning", "postgres tuning"), 1e-9)
}

func TestCompareIsSymmetric(t *testing.T) {
	calc := NewSimilarityCalculator(nil)

	a := "kubernetes pod scheduling latency"
	b := "kubernetes node scheduling"
	assert.InDelta(t, calc.Compare(a, b), calc.Compare(b, a), 1e-9)
}

func TestHybridAveragesJaccardAndCosine(t *testing.T) {
	set1 := KeywordSet([]string{"alpha", "beta", "gamma", "delta"})
	set2 := KeywordSet([]string{"alpha", "beta", "gamma", "epsilon"})

	jaccard := NewSimilarityCalculator(&SimilarityConfig{Algorithm: AlgorithmJaccard}).CompareSets(set1, set2)
	cosine := NewSimilarityCalculator(&SimilarityConfig{Algorithm: AlgorithmCosine}).CompareSets(set1, set2)
	hybrid := NewSimilarityCalculator(&SimilarityConfig{Algorithm: AlgorithmHybrid}).CompareSets(set1, set2)

	assert.InDelta(t, 3.0/5.0, jaccard, 1e-9)
	assert.InDelta(t, 3.0/4.0, cosine, 1e-9)
	assert.InDelta(t, (jaccard+cosine)/2, hybrid, 1e-9)
}

func TestCompareSetsOneSidedEmpty(t *testing.T) {
	calc := NewSimilarityCalculator(nil)

	empty := KeywordSet(nil)
	full := KeywordSet([]string{"alpha", "beta"})
	assert.Equal(t, 0.0, calc.CompareSets(empty, full))
	assert.Equal(t, 0.0, calc.CompareSets(full, empty))
}
