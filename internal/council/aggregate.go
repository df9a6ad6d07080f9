package council

import "sort"

// memberTally accumulates one member's review contributions.
type memberTally struct {
	score   float64
	sumConf float64
	reviews int
}

// AggregateRankings folds the valid Stage-2 reviews into a single
// consensus ordering using confidence-weighted Borda positional scoring:
// in a review ranking k candidates, 1st place earns k-1 points, 2nd k-2,
// down to 0, and each reviewer's points are scaled by that reviewer's
// confidence before summing.
//
// Members that appear in zero valid reviews are marked unranked rather
// than scored 0 — an empty contribution set is not "worst" — and sort
// after every ranked member. Tie-breaks are total: higher score, then
// higher average confidence, then lexicographically lower member id, so
// identical inputs always produce identical output order.
//
// The output is fully de-anonymized; the chairman only ever sees real
// member ids and scores.
func AggregateRankings(reviews []ReviewResult, labels *LabelMap) ConsensusRanking {
	tallies := make(map[string]*memberTally, labels.Len())

	for _, review := range reviews {
		k := len(review.RankedLabels)
		for pos, label := range review.RankedLabels {
			member := mustLabel(labels, label)
			t := tallies[member]
			if t == nil {
				t = &memberTally{}
				tallies[member] = t
			}
			points := float64(k - 1 - pos)
			t.score += float64(review.Confidence) * points
			t.sumConf += float64(review.Confidence)
			t.reviews++
		}
	}

	ranking := make(ConsensusRanking, 0, labels.Len())
	for _, member := range labels.Members() {
		t := tallies[member]
		if t == nil {
			ranking = append(ranking, RankedMember{Member: member, Unranked: true})
			continue
		}
		ranking = append(ranking, RankedMember{
			Member:        member,
			Score:         t.score,
			AvgConfidence: Confidence(t.sumConf / float64(t.reviews)),
			Reviews:       t.reviews,
		})
	}

	sort.SliceStable(ranking, func(i, j int) bool {
		a, b := ranking[i], ranking[j]
		if a.Unranked != b.Unranked {
			return !a.Unranked
		}
		if a.Unranked {
			return a.Member < b.Member
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.AvgConfidence != b.AvgConfidence {
			return a.AvgConfidence > b.AvgConfidence
		}
		return a.Member < b.Member
	})

	return ranking
}
