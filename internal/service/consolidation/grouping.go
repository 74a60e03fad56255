package consolidation

import (
	"sort"
	"strings"

	"mnemo-backend/internal/domain"
	"mnemo-backend/internal/domain/services"
)

// group is a cluster of unconsolidated entries from one domain that share
// enough content similarity to consolidate together.
type group struct {
	Domain     string
	ContextKey string
	Entries    []domain.MemoryEntry
	Keywords   map[string]bool
}

// entryIDs returns the ids of the group's entries.
func (g *group) entryIDs() []string {
	ids := make([]string, len(g.Entries))
	for i, e := range g.Entries {
		ids[i] = e.ID
	}
	return ids
}

// groupEntries clusters entries by (domain, content similarity) using a
// greedy single-pass assignment: an entry joins the first group in its domain
// whose accumulated keyword set is similar enough, otherwise it seeds a new
// group. Entries are visited in creation order so grouping is deterministic.
func (e *Engine) groupEntries(entries []domain.MemoryEntry) []*group {
	threshold := e.tunables().GroupingThreshold

	sorted := make([]domain.MemoryEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	var groups []*group
	for _, entry := range sorted {
		keywords := services.KeywordSet(services.ExtractKeywords(entry.Content))

		var best *group
		bestScore := 0.0
		for _, g := range groups {
			if g.Domain != entry.Domain {
				continue
			}
			score := e.similarity.CompareSets(keywords, g.Keywords)
			if score >= threshold && score > bestScore {
				best = g
				bestScore = score
			}
		}

		if best == nil {
			groups = append(groups, &group{
				Domain:   entry.Domain,
				Entries:  []domain.MemoryEntry{entry},
				Keywords: keywords,
			})
			continue
		}

		best.Entries = append(best.Entries, entry)
		for kw := range keywords {
			best.Keywords[kw] = true
		}
	}

	for _, g := range groups {
		g.ContextKey = contextKey(g.Keywords)
	}
	return groups
}

// contextKey derives a stable key from a group's dominant keywords. Facts
// grouped under the same key across runs consolidate into the same logical
// fact, which is what makes repeated consolidation idempotent.
func contextKey(keywords map[string]bool) string {
	sorted := make([]string, 0, len(keywords))
	for kw := range keywords {
		sorted = append(sorted, kw)
	}
	sort.Strings(sorted)

	if len(sorted) > 3 {
		sorted = sorted[:3]
	}
	return strings.Join(sorted, "-")
}

// referencedDomain scans a group's keywords for a registered domain label
// other than the group's own. A group in "personal" whose content talks
// about "professional" carries information across that boundary, so its
// promotion targets the referenced domain and must pass validation.
func (e *Engine) referencedDomain(g *group) string {
	for _, label := range e.config.Domains {
		if label == g.Domain {
			continue
		}
		if g.Keywords[strings.ToLower(label)] {
			return label
		}
	}
	return ""
}
