// Package ranking picks the candidate whose name best matches the search query.
package ranking

import (
	"strings"

	"github.com/adrg/strutil/metrics"

	"github.com/mohammad-safakhou/comicsearch/models"
)

// Ranker scores candidates with case-insensitive Jaro–Winkler similarity.
type Ranker struct {
	metric *metrics.JaroWinkler
}

func New() *Ranker {
	jw := metrics.NewJaroWinkler()
	jw.CaseSensitive = false
	return &Ranker{metric: jw}
}

// Score returns the similarity of name and query in [0, 1]; equal strings score 1.
func (r *Ranker) Score(name, query string) float64 {
	if strings.EqualFold(name, query) {
		return 1
	}
	s := r.metric.Compare(name, query)
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

// Rank returns the highest scoring candidate. Ties keep the earliest candidate, so the result
// depends only on the candidates' order and the query. ok is false for an empty set.
func (r *Ranker) Rank(candidates []models.PartialResult, query string) (best models.RankedResult, ok bool) {
	bestScore := -1.0
	for _, c := range candidates {
		score := r.Score(c.Name, query)
		if score > bestScore {
			bestScore = score
			best = models.RankedResult{PartialResult: c, Score: score, Query: query}
			ok = true
		}
	}
	return best, ok
}
