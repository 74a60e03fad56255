// Package services contains domain services shared by the episodic store and
// the consolidation engine: keyword extraction and keyword-set similarity.
package services

import (
	"regexp"
	"sort"
	"strings"
)

// stopWords contains common words filtered out during keyword extraction.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true,
	"and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "up": true, "about": true,
	"into": true, "through": true, "during": true, "before": true, "after": true,
	"above": true, "below": true, "between": true, "under": true,
	"again": true, "further": true, "then": true, "once": true,
	"is": true, "am": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true, "did": true,
	"will": true, "would": true, "should": true, "could": true, "ought": true,
	"i": true, "me": true, "my": true, "myself": true,
	"we": true, "our": true, "ours": true, "ourselves": true,
	"you": true, "your": true, "yours": true, "yourself": true, "yourselves": true,
	"he": true, "him": true, "his": true, "himself": true,
	"she": true, "her": true, "hers": true, "herself": true,
	"it": true, "its": true, "itself": true,
	"they": true, "them": true, "their": true, "theirs": true, "themselves": true,
	"what": true, "which": true, "who": true, "whom": true,
	"this": true, "that": true, "these": true, "those": true,
	"as": true, "if": true, "each": true, "how": true, "than": true,
	"too": true, "very": true, "can": true, "just": true, "also": true,
}

var nonWord = regexp.MustCompile(`[^a-z0-9 ]+`)

// ExtractKeywords extracts meaningful keywords from text content, lowercased,
// stop-word filtered, and deduplicated. Order is deterministic.
func ExtractKeywords(content string) []string {
	cleaned := nonWord.ReplaceAllString(strings.ToLower(content), " ")
	words := strings.Fields(cleaned)

	unique := make(map[string]bool)
	for _, word := range words {
		if !stopWords[word] && len(word) > 2 {
			unique[word] = true
		}
	}

	keywords := make([]string, 0, len(unique))
	for word := range unique {
		keywords = append(keywords, word)
	}
	sort.Strings(keywords)

	return keywords
}

// KeywordSet converts a keyword slice to a membership set.
func KeywordSet(keywords []string) map[string]bool {
	set := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		set[kw] = true
	}
	return set
}
