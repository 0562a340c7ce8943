package vision

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func genDetectionLists(rt *rapid.T) [][]DetectionResult {
	labels := []string{"car", "Car", "tree", "person", "dog", "sign"}
	listCount := rapid.IntRange(0, 4).Draw(rt, "lists")
	lists := make([][]DetectionResult, listCount)
	for i := range lists {
		n := rapid.IntRange(0, 8).Draw(rt, "detections")
		for j := 0; j < n; j++ {
			lists[i] = append(lists[i], DetectionResult{
				Label:      rapid.SampledFrom(labels).Draw(rt, "label"),
				Confidence: rapid.Float64Range(0, 1).Draw(rt, "confidence"),
			})
		}
	}
	return lists
}

func TestMergeDetectionsProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		lists := genDetectionLists(rt)
		out := MergeDetections(lists...)

		// One entry per distinct lowercased label.
		distinct := make(map[string]struct{})
		for _, list := range lists {
			for _, d := range list {
				distinct[strings.ToLower(d.Label)] = struct{}{}
			}
		}
		require.Len(t, out, len(distinct))

		seen := make(map[string]struct{}, len(out))
		for i, d := range out {
			// Confidence stays within bounds no matter how many providers agree.
			assert.GreaterOrEqual(t, d.Confidence, 0.0)
			assert.LessOrEqual(t, d.Confidence, 1.0)

			key := strings.ToLower(d.Label)
			_, dup := seen[key]
			assert.False(t, dup, "duplicate key %q in merged output", key)
			seen[key] = struct{}{}

			// Descending order.
			if i > 0 {
				assert.GreaterOrEqual(t, out[i-1].Confidence, d.Confidence)
			}
		}
	})
}

func TestMergeDetectionsOrderInsensitiveKeySet(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		lists := genDetectionLists(rt)
		forward := MergeDetections(lists...)

		reversed := make([][]DetectionResult, len(lists))
		for i := range lists {
			reversed[i] = lists[len(lists)-1-i]
		}
		backward := MergeDetections(reversed...)

		// Confidences depend on encounter order, but the label set does not.
		forwardKeys := make(map[string]struct{}, len(forward))
		for _, d := range forward {
			forwardKeys[strings.ToLower(d.Label)] = struct{}{}
		}
		backwardKeys := make(map[string]struct{}, len(backward))
		for _, d := range backward {
			backwardKeys[strings.ToLower(d.Label)] = struct{}{}
		}
		assert.Equal(t, forwardKeys, backwardKeys)
	})
}
