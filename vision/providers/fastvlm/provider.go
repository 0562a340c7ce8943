package fastvlm

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

const defaultModel = "fastvlm-7b"

// analysisPrompt instructs the model to answer with machine-readable JSON.
// Decoding tolerates a markdown code fence around the object.
const analysisPrompt = `Analyze this image and respond with a single JSON object, no prose:
{
  "labels":  [{"label": "...", "confidence": 0.0}],
  "text":    [{"text": "...", "confidence": 0.0}],
  "scene":   {"description": "...", "confidence": 0.0}
}
Confidence values must be between 0 and 1. Use empty arrays when nothing is detected.`

// Provider implements vision.Provider against a self-hosted FastVLM server
// exposing the OpenAI-compatible chat completions API.
type Provider struct {
	cfg    providers.FastVLMConfig
	client *http.Client
	base   string
	model  string
	logger *zap.Logger
}

func New(cfg providers.FastVLMConfig, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		model:  model,
		logger: logger,
	}
}

func (p *Provider) Name() vision.ProviderID { return vision.ProviderAppleFastVLM }

// Initialize checks that the inference server is reachable and serves the
// configured model.
func (p *Provider) Initialize(ctx context.Context) error {
	if p.base == "" {
		return types.NewError(types.ErrConfiguration, "fastvlm: base_url is required").
			WithProvider(string(p.Name()))
	}
	status := p.GetServiceStatus(ctx)
	if status.Status != vision.StatusHealthy {
		return types.NewError(types.ErrServiceUnavailable,
			fmt.Sprintf("fastvlm: server not ready: %s", status.Error)).
			WithProvider(string(p.Name())).
			WithRetryable(true)
	}
	return nil
}

func (p *Provider) Cleanup(ctx context.Context) error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *Provider) SupportedKinds() []vision.AnalysisKind {
	return []vision.AnalysisKind{
		vision.KindLabelDetection,
		vision.KindTextDetection,
		vision.KindSceneAnalysis,
	}
}

// EstimateCost is zero: the model runs on local hardware.
func (p *Provider) EstimateCost(durationSeconds float64, kinds []vision.AnalysisKind) float64 {
	return 0
}

func (p *Provider) GetServiceStatus(ctx context.Context) *vision.ServiceStatus {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+"/v1/models", nil)
	if err != nil {
		return &vision.ServiceStatus{Status: vision.StatusUnhealthy, Error: err.Error()}
	}
	resp, err := p.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return &vision.ServiceStatus{Status: vision.StatusUnhealthy, Latency: latency, Error: err.Error()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &vision.ServiceStatus{
			Status:  vision.StatusUnhealthy,
			Latency: latency,
			Error:   fmt.Sprintf("models endpoint returned status %d", resp.StatusCode),
		}
	}
	return &vision.ServiceStatus{Status: vision.StatusHealthy, Latency: latency}
}

func (p *Provider) BatchAnalyze(ctx context.Context, assetRefs []string, kinds []vision.AnalysisKind) ([]*vision.VideoAnalysisResult, error) {
	return vision.SequentialBatchAnalyze(ctx, p, assetRefs, kinds)
}

// AnalyzeVideo is unsupported; FastVLM consumes single frames only.
func (p *Provider) AnalyzeVideo(ctx context.Context, assetRef string, kinds []vision.AnalysisKind) (*vision.VideoAnalysisResult, error) {
	return nil, types.NewError(types.ErrInvalidRequest,
		"fastvlm: video analysis is not supported, submit individual frames").
		WithProvider(string(p.Name()))
}

// =============================================================================
// Chat completion plumbing
// =============================================================================

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// modelAnswer is the JSON shape requested by analysisPrompt.
type modelAnswer struct {
	Labels []struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	} `json:"labels,omitempty"`
	Text []struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	} `json:"text,omitempty"`
	Scene *struct {
		Description string  `json:"description"`
		Confidence  float64 `json:"confidence"`
	} `json:"scene,omitempty"`
}

func (p *Provider) AnalyzeImage(ctx context.Context, assetRef string, kinds []vision.AnalysisKind) (*vision.VideoAnalysisResult, error) {
	start := time.Now()

	payload := chatRequest{
		Model: p.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: analysisPrompt},
				{Type: "image_url", ImageURL: &imageURL{URL: assetRef}},
			},
		}},
		MaxTokens:   1024,
		Temperature: 0,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewError(types.ErrCloudAI, "fastvlm: build request").
			WithProvider(string(p.Name())).
			WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrServiceUnavailable, "fastvlm: request failed").
			WithProvider(string(p.Name())).
			WithRetryable(true).
			WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, p.mapHTTPStatus(resp.StatusCode)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, types.NewError(types.ErrCloudAI, "fastvlm: decode response").
			WithProvider(string(p.Name())).
			WithCause(err)
	}
	if len(chat.Choices) == 0 {
		return nil, types.NewError(types.ErrCloudAI, "fastvlm: empty completion").
			WithProvider(string(p.Name()))
	}

	answer, err := parseAnswer(chat.Choices[0].Message.Content)
	if err != nil {
		return nil, types.NewError(types.ErrCloudAI, "fastvlm: model returned non-JSON answer").
			WithProvider(string(p.Name())).
			WithCause(err)
	}

	result := &vision.VideoAnalysisResult{
		Provider:      p.Name(),
		AssetID:       assetRef,
		AnalysisKinds: kinds,
		Timestamp:     time.Now().UTC(),
	}
	if containsKind(kinds, vision.KindLabelDetection) {
		for _, l := range answer.Labels {
			result.Labels = append(result.Labels, vision.DetectionResult{
				Label:      l.Label,
				Confidence: clamp01(l.Confidence),
			})
		}
	}
	if containsKind(kinds, vision.KindTextDetection) {
		for _, t := range answer.Text {
			result.TextDetections = append(result.TextDetections, vision.DetectionResult{
				Label:      t.Text,
				Confidence: clamp01(t.Confidence),
			})
		}
	}
	if containsKind(kinds, vision.KindSceneAnalysis) && answer.Scene != nil && answer.Scene.Description != "" {
		result.Scenes = append(result.Scenes, vision.Scene{
			Label:      answer.Scene.Description,
			Confidence: clamp01(answer.Scene.Confidence),
		})
	}

	result.ProcessingTime = time.Since(start)
	estimated := 0.0
	result.CostEstimate = &estimated
	return result, nil
}

// parseAnswer extracts the JSON object from the completion text, stripping
// a markdown code fence when the model wraps its answer in one.
func parseAnswer(content string) (*modelAnswer, error) {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	var answer modelAnswer
	if err := json.Unmarshal([]byte(trimmed), &answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

func (p *Provider) mapHTTPStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, "fastvlm: server overloaded").
			WithProvider(string(p.Name())).
			WithHTTPStatus(status).
			WithRetryable(true)
	case status >= 500:
		return types.NewError(types.ErrServiceUnavailable,
			fmt.Sprintf("fastvlm: server error %d", status)).
			WithProvider(string(p.Name())).
			WithHTTPStatus(status).
			WithRetryable(true)
	default:
		return types.NewError(types.ErrCloudAI,
			fmt.Sprintf("fastvlm: unexpected status %d", status)).
			WithProvider(string(p.Name())).
			WithHTTPStatus(status)
	}
}

func containsKind(kinds []vision.AnalysisKind, want vision.AnalysisKind) bool {
	for _, k := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
