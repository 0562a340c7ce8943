package fastvlm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/types"
	"github.com/BaSui01/visionflow/vision"
	"github.com/BaSui01/visionflow/vision/providers"
)

func completion(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(providers.FastVLMConfig{BaseURL: srv.URL}, zap.NewNop())
}

func TestAnalyzeImage(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, defaultModel, req.Model)
		require.Len(t, req.Messages, 1)
		require.Len(t, req.Messages[0].Content, 2)
		assert.Equal(t, "image_url", req.Messages[0].Content[1].Type)

		json.NewEncoder(w).Encode(completion(`{
			"labels": [{"label": "dog", "confidence": 0.93}],
			"text":   [{"text": "BEWARE", "confidence": 0.8}],
			"scene":  {"description": "a dog behind a fence", "confidence": 0.9}
		}`))
	})

	res, err := p.AnalyzeImage(context.Background(), "https://example.com/dog.jpg",
		[]vision.AnalysisKind{vision.KindLabelDetection, vision.KindTextDetection, vision.KindSceneAnalysis})
	require.NoError(t, err)

	require.Len(t, res.Labels, 1)
	assert.Equal(t, "dog", res.Labels[0].Label)
	require.Len(t, res.TextDetections, 1)
	assert.Equal(t, "BEWARE", res.TextDetections[0].Label)
	require.Len(t, res.Scenes, 1)
	assert.Equal(t, "a dog behind a fence", res.Scenes[0].Label)

	require.NotNil(t, res.CostEstimate)
	assert.Equal(t, 0.0, *res.CostEstimate)
}

func TestAnalyzeImageFiltersUnrequestedKinds(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completion(`{
			"labels": [{"label": "dog", "confidence": 0.93}],
			"text":   [{"text": "BEWARE", "confidence": 0.8}]
		}`))
	})

	res, err := p.AnalyzeImage(context.Background(), "https://example.com/dog.jpg",
		[]vision.AnalysisKind{vision.KindLabelDetection})
	require.NoError(t, err)
	assert.Len(t, res.Labels, 1)
	// The model volunteered text, but text detection was not requested.
	assert.Empty(t, res.TextDetections)
}

func TestAnalyzeImageCodeFencedAnswer(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completion("```json\n{\"labels\": [{\"label\": \"cat\", \"confidence\": 0.9}]}\n```"))
	})

	res, err := p.AnalyzeImage(context.Background(), "https://example.com/cat.jpg",
		[]vision.AnalysisKind{vision.KindLabelDetection})
	require.NoError(t, err)
	require.Len(t, res.Labels, 1)
	assert.Equal(t, "cat", res.Labels[0].Label)
}

func TestAnalyzeImageNonJSONAnswer(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completion("I see a dog in the picture."))
	})

	_, err := p.AnalyzeImage(context.Background(), "https://example.com/dog.jpg",
		[]vision.AnalysisKind{vision.KindLabelDetection})
	require.Error(t, err)
	assert.Equal(t, types.ErrCloudAI, types.GetErrorCode(err))
}

func TestAnalyzeImageConfidenceClamped(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completion(`{"labels": [{"label": "dog", "confidence": 1.7}]}`))
	})

	res, err := p.AnalyzeImage(context.Background(), "https://example.com/dog.jpg",
		[]vision.AnalysisKind{vision.KindLabelDetection})
	require.NoError(t, err)
	require.Len(t, res.Labels, 1)
	assert.Equal(t, 1.0, res.Labels[0].Confidence)
}

func TestAnalyzeImageServerOverloaded(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := p.AnalyzeImage(context.Background(), "https://example.com/dog.jpg",
		[]vision.AnalysisKind{vision.KindLabelDetection})
	require.Error(t, err)
	assert.Equal(t, types.ErrRateLimited, types.GetErrorCode(err))
}

func TestAnalyzeVideoUnsupported(t *testing.T) {
	p := New(providers.FastVLMConfig{BaseURL: "http://localhost:8000"}, zap.NewNop())
	_, err := p.AnalyzeVideo(context.Background(), "https://example.com/v.mp4",
		[]vision.AnalysisKind{vision.KindLabelDetection})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestInitializeRequiresBaseURL(t *testing.T) {
	p := New(providers.FastVLMConfig{}, zap.NewNop())
	err := p.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
}

func TestInitializeProbesModels(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/models", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	})
	require.NoError(t, p.Initialize(context.Background()))
}

func TestParseAnswer(t *testing.T) {
	answer, err := parseAnswer(`  {"labels": []}  `)
	require.NoError(t, err)
	assert.Empty(t, answer.Labels)

	_, err = parseAnswer("not json at all")
	assert.Error(t, err)
}

func TestEstimateCostIsZero(t *testing.T) {
	p := New(providers.FastVLMConfig{BaseURL: "http://localhost:8000"}, zap.NewNop())
	assert.Equal(t, 0.0, p.EstimateCost(600, []vision.AnalysisKind{vision.KindLabelDetection}))
}
