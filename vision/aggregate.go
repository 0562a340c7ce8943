package vision

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/visionflow/types"
)

// consensusBoost is the multiplier applied each time an additional provider
// agrees on a label. The value is a tunable policy constant kept for
// behavioral parity with existing consumers, capped so confidence stays
// within [0,1].
const consensusBoost = 1.1

// MergeDetections merges detection lists from several providers into one
// deduplicated, confidence-adjusted list.
//
// Detections are keyed by lowercased label. The first occurrence of a key
// is kept as-is; every later occurrence averages its confidence with the
// running value and then boosts the result by consensusBoost, capped at
// 1.0. The final list is sorted strictly descending by confidence with
// stable tie-breaking: equal confidences keep their first-seen order.
func MergeDetections(lists ...[]DetectionResult) []DetectionResult {
	var merged []DetectionResult
	index := make(map[string]int)

	for _, list := range lists {
		for _, d := range list {
			key := strings.ToLower(d.Label)
			i, seen := index[key]
			if !seen {
				index[key] = len(merged)
				merged = append(merged, d)
				continue
			}
			avg := (merged[i].Confidence + d.Confidence) / 2
			merged[i].Confidence = math.Min(1.0, avg*consensusBoost)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Confidence > merged[j].Confidence
	})
	return merged
}

// AggregateResults reconciles independent per-provider results for the same
// asset into one coherent result.
//
// An empty input is a caller error. A single result is returned unchanged,
// so aggregation is idempotent for singletons. Otherwise each detection
// category is merged independently with MergeDetections; shots and scenes
// are taken from the first result (first-result-wins, no temporal
// reconciliation across providers); analysis kinds are unioned; processing
// time is the worst observed latency since the work ran in parallel; cost
// is summed because every provider was actually invoked. The merged result
// is tagged ProviderAggregated and its raw response records the
// contributing providers.
func AggregateResults(results []*VideoAnalysisResult) (*VideoAnalysisResult, error) {
	if len(results) == 0 {
		return nil, types.NewError(types.ErrNothingToAggregate, "no results to aggregate")
	}
	if len(results) == 1 {
		return results[0], nil
	}

	base := results[0]
	merged := &VideoAnalysisResult{
		Provider:  ProviderAggregated,
		AssetID:   base.AssetID,
		Shots:     base.Shots,
		Scenes:    base.Scenes,
		Timestamp: time.Now().UTC(),
	}

	var (
		objects, labels, texts, faces, logos [][]DetectionResult
		contributors                         []string
		kindSeen                             = make(map[AnalysisKind]struct{})
		costTotal                            float64
		costKnown                            bool
	)
	for _, r := range results {
		objects = append(objects, r.Objects)
		labels = append(labels, r.Labels)
		texts = append(texts, r.TextDetections)
		faces = append(faces, r.Faces)
		logos = append(logos, r.Logos)
		contributors = append(contributors, string(r.Provider))

		for _, k := range r.AnalysisKinds {
			if _, ok := kindSeen[k]; !ok {
				kindSeen[k] = struct{}{}
				merged.AnalysisKinds = append(merged.AnalysisKinds, k)
			}
		}
		if r.ProcessingTime > merged.ProcessingTime {
			merged.ProcessingTime = r.ProcessingTime
		}
		if r.CostEstimate != nil {
			costTotal += *r.CostEstimate
			costKnown = true
		}
	}

	merged.Objects = MergeDetections(objects...)
	merged.Labels = MergeDetections(labels...)
	merged.TextDetections = MergeDetections(texts...)
	merged.Faces = MergeDetections(faces...)
	merged.Logos = MergeDetections(logos...)
	if costKnown {
		merged.CostEstimate = &costTotal
	}
	merged.RawResponse = map[string]any{"providers": contributors}

	return merged, nil
}
