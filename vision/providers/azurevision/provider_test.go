package azurevision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/types"
	"github.com/BaSui01/visionflow/vision"
	"github.com/BaSui01/visionflow/vision/providers"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Provider) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := New(providers.AzureVisionConfig{
		SubscriptionKey: "test-key",
		Endpoint:        srv.URL,
	}, zap.NewNop())
	return srv, p
}

func TestInitializeValidatesConfig(t *testing.T) {
	p := New(providers.AzureVisionConfig{Endpoint: "https://example.cognitiveservices.azure.com"}, zap.NewNop())
	err := p.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))

	p = New(providers.AzureVisionConfig{SubscriptionKey: "k"}, zap.NewNop())
	err = p.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
}

func TestInitializeRejectedKey(t *testing.T) {
	_, p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	err := p.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrAuthentication, types.GetErrorCode(err))
}

func TestInitializeSendsSubscriptionKey(t *testing.T) {
	var gotKey atomic.Value
	_, p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey.Store(r.Header.Get("Ocp-Apim-Subscription-Key"))
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, p.Initialize(context.Background()))
	assert.Equal(t, "test-key", gotKey.Load())
}

func TestAnalyzeImage(t *testing.T) {
	_, p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/vision/v3.2/analyze", r.URL.Path)
		features := r.URL.Query().Get("visualFeatures")
		assert.Contains(t, features, "Tags")
		assert.Contains(t, features, "Brands")

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://example.com/photo.jpg", body["url"])

		json.NewEncoder(w).Encode(map[string]any{
			"tags": []map[string]any{
				{"name": "outdoor", "confidence": 0.98},
				{"name": "tree", "confidence": 0.87},
			},
			"brands": []map[string]any{
				{"name": "Contoso", "confidence": 0.75,
					"rectangle": map[string]float64{"x": 100, "y": 50, "w": 200, "h": 100}},
			},
			"metadata": map[string]float64{"width": 1000, "height": 500},
		})
	})

	res, err := p.AnalyzeImage(context.Background(), "https://example.com/photo.jpg",
		[]vision.AnalysisKind{vision.KindLabelDetection, vision.KindLogoRecognition})
	require.NoError(t, err)

	require.Len(t, res.Labels, 2)
	assert.Equal(t, "outdoor", res.Labels[0].Label)
	assert.InDelta(t, 0.98, res.Labels[0].Confidence, 1e-9)

	require.Len(t, res.Logos, 1)
	assert.Equal(t, "Contoso", res.Logos[0].Label)
	// Pixel rectangle normalized by image dimensions.
	require.NotNil(t, res.Logos[0].BoundingBox)
	assert.InDelta(t, 0.1, res.Logos[0].BoundingBox.X, 1e-9)
	assert.InDelta(t, 0.1, res.Logos[0].BoundingBox.Y, 1e-9)
	assert.InDelta(t, 0.2, res.Logos[0].BoundingBox.Width, 1e-9)
	assert.InDelta(t, 0.2, res.Logos[0].BoundingBox.Height, 1e-9)

	require.NotNil(t, res.CostEstimate)
	assert.InDelta(t, 0.002, *res.CostEstimate, 1e-9)
}

func TestAnalyzeImageModeration(t *testing.T) {
	_, p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"adult": map[string]any{
				"isAdultContent": false,
				"adultScore":     0.01,
				"racyScore":      0.12,
			},
			"metadata": map[string]float64{"width": 100, "height": 100},
		})
	})

	res, err := p.AnalyzeImage(context.Background(), "https://example.com/photo.jpg",
		[]vision.AnalysisKind{vision.KindContentModeration})
	require.NoError(t, err)
	require.Len(t, res.Labels, 2)
	assert.Equal(t, "adult_content", res.Labels[0].Label)
	assert.Equal(t, true, res.Labels[0].Metadata["moderation"])
}

func TestAnalyzeImageReadText(t *testing.T) {
	var srv *httptest.Server
	polls := 0
	srv, p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/vision/v3.2/read/analyze":
			w.Header().Set("Operation-Location", srv.URL+"/vision/v3.2/read/analyzeResults/op-1")
			w.WriteHeader(http.StatusAccepted)
		case "/vision/v3.2/read/analyzeResults/op-1":
			polls++
			if polls == 1 {
				json.NewEncoder(w).Encode(map[string]any{"status": "running"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"status": "succeeded",
				"analyzeResult": map[string]any{
					"readResults": []map[string]any{{
						"lines": []map[string]any{{
							"text": "STOP",
							"words": []map[string]any{
								{"text": "STOP", "confidence": 0.96},
							},
						}},
					}},
				},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	res, err := p.AnalyzeImage(context.Background(), "https://example.com/sign.jpg",
		[]vision.AnalysisKind{vision.KindTextDetection})
	require.NoError(t, err)
	require.Len(t, res.TextDetections, 1)
	assert.Equal(t, "STOP", res.TextDetections[0].Label)
	assert.InDelta(t, 0.96, res.TextDetections[0].Confidence, 1e-9)
}

func TestAnalyzeImageRateLimited(t *testing.T) {
	_, p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := p.AnalyzeImage(context.Background(), "https://example.com/photo.jpg",
		[]vision.AnalysisKind{vision.KindLabelDetection})
	require.Error(t, err)
	assert.Equal(t, types.ErrRateLimited, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestAnalyzeVideoUnsupported(t *testing.T) {
	p := New(providers.AzureVisionConfig{SubscriptionKey: "k", Endpoint: "https://x"}, zap.NewNop())
	_, err := p.AnalyzeVideo(context.Background(), "https://example.com/v.mp4",
		[]vision.AnalysisKind{vision.KindLabelDetection})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestGetServiceStatus(t *testing.T) {
	_, p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/vision/v3.2/models", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	st := p.GetServiceStatus(context.Background())
	assert.Equal(t, vision.StatusHealthy, st.Status)

	_, down := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	st = down.GetServiceStatus(context.Background())
	assert.Equal(t, vision.StatusUnhealthy, st.Status)
}

func TestFeatureListDeduplicates(t *testing.T) {
	p := New(providers.AzureVisionConfig{SubscriptionKey: "k", Endpoint: "https://x"}, zap.NewNop())
	features := p.featureList([]vision.AnalysisKind{
		vision.KindSceneAnalysis,
		vision.KindLabelDetection,
		vision.KindSceneAnalysis,
	})
	assert.Equal(t, []string{"Description", "Categories", "Tags"}, features)
}
