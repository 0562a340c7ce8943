package azurevision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/types"
	"github.com/BaSui01/visionflow/vision"
	"github.com/BaSui01/visionflow/vision/providers"
)

const (
	apiVersion = "v3.2"

	// Read operation polling cadence.
	readPollInterval = 1 * time.Second
)

// Provider implements vision.Provider on top of the Azure AI Vision
// image analysis REST API.
//
// Azure's Computer Vision resource analyzes still images only; video
// analysis requires the separate Video Indexer product and is reported as
// an invalid request here, which lets the router fall through to a
// video-capable provider.
type Provider struct {
	cfg      providers.AzureVisionConfig
	client   *http.Client
	endpoint string
	logger   *zap.Logger
}

// New creates the provider. The endpoint is validated in Initialize.
func New(cfg providers.AzureVisionConfig, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Provider{
		cfg:      cfg,
		client:   &http.Client{Timeout: timeout},
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		logger:   logger,
	}
}

func (p *Provider) Name() vision.ProviderID { return vision.ProviderAzureVision }

// Initialize validates configuration and verifies the subscription key
// against the models endpoint.
func (p *Provider) Initialize(ctx context.Context) error {
	if p.cfg.SubscriptionKey == "" {
		return types.NewError(types.ErrConfiguration, "azure_vision: subscription_key is required").
			WithProvider(string(p.Name()))
	}
	if p.endpoint == "" {
		return types.NewError(types.ErrConfiguration, "azure_vision: endpoint is required").
			WithProvider(string(p.Name()))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/vision/"+apiVersion+"/models", nil)
	if err != nil {
		return types.NewError(types.ErrConfiguration, "azure_vision: malformed endpoint").
			WithProvider(string(p.Name())).
			WithCause(err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.cfg.SubscriptionKey)
	resp, err := p.client.Do(req)
	if err != nil {
		return types.NewError(types.ErrServiceUnavailable, "azure_vision: endpoint unreachable").
			WithProvider(string(p.Name())).
			WithRetryable(true).
			WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return types.NewError(types.ErrAuthentication, "azure_vision: subscription key rejected").
			WithProvider(string(p.Name())).
			WithHTTPStatus(resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return types.NewError(types.ErrCloudAI,
			fmt.Sprintf("azure_vision: models probe returned status %d", resp.StatusCode)).
			WithProvider(string(p.Name())).
			WithHTTPStatus(resp.StatusCode)
	}
	return nil
}

// Cleanup drops idle connections. Idempotent.
func (p *Provider) Cleanup(ctx context.Context) error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *Provider) SupportedKinds() []vision.AnalysisKind {
	return []vision.AnalysisKind{
		vision.KindLabelDetection,
		vision.KindTextDetection,
		vision.KindOCR,
		vision.KindFaceDetection,
		vision.KindLogoRecognition,
		vision.KindContentModeration,
		vision.KindSceneAnalysis,
	}
}

// EstimateCost follows the S1 per-1000-transactions tier; one transaction
// per requested feature.
func (p *Provider) EstimateCost(durationSeconds float64, kinds []vision.AnalysisKind) float64 {
	if durationSeconds <= 0 {
		return 0.001 * float64(len(kinds))
	}
	return vision.DefaultCostEstimate(durationSeconds, kinds)
}

func (p *Provider) GetServiceStatus(ctx context.Context) *vision.ServiceStatus {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/vision/"+apiVersion+"/models", nil)
	if err != nil {
		return &vision.ServiceStatus{Status: vision.StatusUnhealthy, Error: err.Error()}
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.cfg.SubscriptionKey)
	resp, err := p.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return &vision.ServiceStatus{Status: vision.StatusUnhealthy, Latency: latency, Error: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &vision.ServiceStatus{
			Status:  vision.StatusUnhealthy,
			Latency: latency,
			Error:   fmt.Sprintf("models probe returned status %d", resp.StatusCode),
		}
	}
	return &vision.ServiceStatus{Status: vision.StatusHealthy, Latency: latency}
}

func (p *Provider) BatchAnalyze(ctx context.Context, assetRefs []string, kinds []vision.AnalysisKind) ([]*vision.VideoAnalysisResult, error) {
	return vision.SequentialBatchAnalyze(ctx, p, assetRefs, kinds)
}

// AnalyzeVideo is not available on a Computer Vision resource.
func (p *Provider) AnalyzeVideo(ctx context.Context, assetRef string, kinds []vision.AnalysisKind) (*vision.VideoAnalysisResult, error) {
	return nil, types.NewError(types.ErrInvalidRequest,
		"azure_vision: video analysis requires an Azure Video Indexer resource").
		WithProvider(string(p.Name()))
}

// =============================================================================
// Image analysis
// =============================================================================

// visualFeatures maps analysis kinds onto the analyze API feature list.
var visualFeatures = map[vision.AnalysisKind]string{
	vision.KindLabelDetection:    "Tags",
	vision.KindFaceDetection:     "Faces",
	vision.KindLogoRecognition:   "Brands",
	vision.KindContentModeration: "Adult",
	vision.KindSceneAnalysis:     "Description,Categories",
}

type analyzeResponse struct {
	Tags []struct {
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence"`
	} `json:"tags,omitempty"`
	Faces []struct {
		FaceRectangle struct {
			Left   float64 `json:"left"`
			Top    float64 `json:"top"`
			Width  float64 `json:"width"`
			Height float64 `json:"height"`
		} `json:"faceRectangle"`
	} `json:"faces,omitempty"`
	Brands []struct {
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence"`
		Rectangle  struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
			W float64 `json:"w"`
			H float64 `json:"h"`
		} `json:"rectangle"`
	} `json:"brands,omitempty"`
	Adult *struct {
		IsAdultContent bool    `json:"isAdultContent"`
		IsRacyContent  bool    `json:"isRacyContent"`
		IsGoryContent  bool    `json:"isGoryContent"`
		AdultScore     float64 `json:"adultScore"`
		RacyScore      float64 `json:"racyScore"`
		GoreScore      float64 `json:"goreScore"`
	} `json:"adult,omitempty"`
	Description *struct {
		Captions []struct {
			Text       string  `json:"text"`
			Confidence float64 `json:"confidence"`
		} `json:"captions,omitempty"`
	} `json:"description,omitempty"`
	Metadata struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"metadata"`
}

func (p *Provider) AnalyzeImage(ctx context.Context, assetRef string, kinds []vision.AnalysisKind) (*vision.VideoAnalysisResult, error) {
	start := time.Now()

	result := &vision.VideoAnalysisResult{
		Provider:      p.Name(),
		AssetID:       assetRef,
		AnalysisKinds: kinds,
		Timestamp:     time.Now().UTC(),
	}

	features := p.featureList(kinds)
	if len(features) > 0 {
		var resp analyzeResponse
		url := fmt.Sprintf("%s/vision/%s/analyze?visualFeatures=%s", p.endpoint, apiVersion, strings.Join(features, ","))
		if err := p.postURL(ctx, url, assetRef, &resp); err != nil {
			return nil, err
		}
		p.fillFromAnalyze(result, &resp)
	}

	if containsAny(kinds, vision.KindTextDetection, vision.KindOCR) {
		texts, err := p.readText(ctx, assetRef)
		if err != nil {
			return nil, err
		}
		result.TextDetections = texts
	}

	result.ProcessingTime = time.Since(start)
	estimated := p.EstimateCost(0, kinds)
	result.CostEstimate = &estimated
	return result, nil
}

func (p *Provider) featureList(kinds []vision.AnalysisKind) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, k := range kinds {
		f, ok := visualFeatures[k]
		if !ok {
			continue
		}
		for _, part := range strings.Split(f, ",") {
			if _, dup := seen[part]; dup {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	return out
}

func (p *Provider) fillFromAnalyze(result *vision.VideoAnalysisResult, resp *analyzeResponse) {
	for _, t := range resp.Tags {
		result.Labels = append(result.Labels, vision.DetectionResult{
			Label:      t.Name,
			Confidence: t.Confidence,
		})
	}
	w, h := resp.Metadata.Width, resp.Metadata.Height
	for i, f := range resp.Faces {
		det := vision.DetectionResult{
			// The analyze API reports face rectangles without a score.
			Label:      fmt.Sprintf("face_%d", i+1),
			Confidence: 1.0,
		}
		if w > 0 && h > 0 {
			det.BoundingBox = &vision.BoundingBox{
				X:      f.FaceRectangle.Left / w,
				Y:      f.FaceRectangle.Top / h,
				Width:  f.FaceRectangle.Width / w,
				Height: f.FaceRectangle.Height / h,
			}
		}
		result.Faces = append(result.Faces, det)
	}
	for _, b := range resp.Brands {
		det := vision.DetectionResult{
			Label:      b.Name,
			Confidence: b.Confidence,
		}
		if w > 0 && h > 0 {
			det.BoundingBox = &vision.BoundingBox{
				X:      b.Rectangle.X / w,
				Y:      b.Rectangle.Y / h,
				Width:  b.Rectangle.W / w,
				Height: b.Rectangle.H / h,
			}
		}
		result.Logos = append(result.Logos, det)
	}
	if resp.Adult != nil {
		result.Labels = append(result.Labels,
			vision.DetectionResult{
				Label:      "adult_content",
				Confidence: resp.Adult.AdultScore,
				Metadata:   map[string]any{"moderation": true, "flagged": resp.Adult.IsAdultContent},
			},
			vision.DetectionResult{
				Label:      "racy_content",
				Confidence: resp.Adult.RacyScore,
				Metadata:   map[string]any{"moderation": true, "flagged": resp.Adult.IsRacyContent},
			},
		)
	}
	if resp.Description != nil {
		for _, c := range resp.Description.Captions {
			result.Scenes = append(result.Scenes, vision.Scene{
				Label:      c.Text,
				Confidence: c.Confidence,
			})
		}
	}
}

// =============================================================================
// Read API (asynchronous OCR)
// =============================================================================

type readResult struct {
	Status        string `json:"status"`
	AnalyzeResult *struct {
		ReadResults []struct {
			Lines []struct {
				Text  string `json:"text"`
				Words []struct {
					Text       string  `json:"text"`
					Confidence float64 `json:"confidence"`
				} `json:"words,omitempty"`
			} `json:"lines,omitempty"`
		} `json:"readResults,omitempty"`
	} `json:"analyzeResult,omitempty"`
}

// readText submits the asset to the Read operation and polls the returned
// Operation-Location until it settles. Line confidence is the mean of the
// per-word confidences since the API reports none at line level.
func (p *Provider) readText(ctx context.Context, assetRef string) ([]vision.DetectionResult, error) {
	body, _ := json.Marshal(map[string]string{"url": assetRef})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint+"/vision/"+apiVersion+"/read/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewError(types.ErrCloudAI, "azure_vision: build read request").
			WithProvider(string(p.Name())).
			WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", p.cfg.SubscriptionKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrServiceUnavailable, "azure_vision: read request failed").
			WithProvider(string(p.Name())).
			WithRetryable(true).
			WithCause(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return nil, p.mapHTTPStatus(resp.StatusCode, "read submit")
	}
	opURL := resp.Header.Get("Operation-Location")
	if opURL == "" {
		return nil, types.NewError(types.ErrCloudAI, "azure_vision: read accepted without operation location").
			WithProvider(string(p.Name()))
	}

	ticker := time.NewTicker(readPollInterval)
	defer ticker.Stop()
	for {
		var status readResult
		if err := p.getJSON(ctx, opURL, &status); err != nil {
			return nil, err
		}
		switch status.Status {
		case "succeeded":
			var out []vision.DetectionResult
			if status.AnalyzeResult == nil {
				return out, nil
			}
			for _, page := range status.AnalyzeResult.ReadResults {
				for _, line := range page.Lines {
					confidence := 1.0
					if len(line.Words) > 0 {
						sum := 0.0
						for _, w := range line.Words {
							sum += w.Confidence
						}
						confidence = sum / float64(len(line.Words))
					}
					out = append(out, vision.DetectionResult{
						Label:      line.Text,
						Confidence: confidence,
					})
				}
			}
			return out, nil
		case "failed":
			return nil, types.NewError(types.ErrCloudAI, "azure_vision: read operation failed").
				WithProvider(string(p.Name()))
		}

		select {
		case <-ctx.Done():
			return nil, types.NewError(types.ErrCloudAI, "azure_vision: read cancelled while polling").
				WithProvider(string(p.Name())).
				WithCause(ctx.Err())
		case <-ticker.C:
		}
	}
}

// =============================================================================
// Transport helpers
// =============================================================================

func (p *Provider) postURL(ctx context.Context, url, assetRef string, out any) error {
	body, _ := json.Marshal(map[string]string{"url": assetRef})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return types.NewError(types.ErrCloudAI, "azure_vision: build request").
			WithProvider(string(p.Name())).
			WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", p.cfg.SubscriptionKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return types.NewError(types.ErrServiceUnavailable, "azure_vision: request failed").
			WithProvider(string(p.Name())).
			WithRetryable(true).
			WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return p.mapHTTPStatus(resp.StatusCode, "analyze")
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *Provider) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.NewError(types.ErrCloudAI, "azure_vision: build poll request").
			WithProvider(string(p.Name())).
			WithCause(err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.cfg.SubscriptionKey)
	resp, err := p.client.Do(req)
	if err != nil {
		return types.NewError(types.ErrServiceUnavailable, "azure_vision: poll failed").
			WithProvider(string(p.Name())).
			WithRetryable(true).
			WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return p.mapHTTPStatus(resp.StatusCode, "poll")
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *Provider) mapHTTPStatus(status int, op string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited,
			fmt.Sprintf("azure_vision: %s: rate limited", op)).
			WithProvider(string(p.Name())).
			WithHTTPStatus(status).
			WithRetryable(true)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewError(types.ErrAuthentication,
			fmt.Sprintf("azure_vision: %s: subscription key rejected", op)).
			WithProvider(string(p.Name())).
			WithHTTPStatus(status)
	case status >= 500:
		return types.NewError(types.ErrServiceUnavailable,
			fmt.Sprintf("azure_vision: %s: upstream error %d", op, status)).
			WithProvider(string(p.Name())).
			WithHTTPStatus(status).
			WithRetryable(true)
	default:
		return types.NewError(types.ErrCloudAI,
			fmt.Sprintf("azure_vision: %s: unexpected status %d", op, status)).
			WithProvider(string(p.Name())).
			WithHTTPStatus(status)
	}
}

func containsAny(kinds []vision.AnalysisKind, wants ...vision.AnalysisKind) bool {
	for _, k := range kinds {
		for _, w := range wants {
			if k == w {
				return true
			}
		}
	}
	return false
}
