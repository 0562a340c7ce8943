package googlevideo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/BaSui01/visionflow/types"
	"github.com/BaSui01/visionflow/vision"
	"github.com/BaSui01/visionflow/vision/providers"
)

const (
	defaultVideoBaseURL = "https://videointelligence.googleapis.com"
	defaultImageBaseURL = "https://vision.googleapis.com"
	cloudPlatformScope  = "https://www.googleapis.com/auth/cloud-platform"

	// Operation polling cadence for videos:annotate long-running operations.
	pollInterval = 5 * time.Second
)

// Provider implements vision.Provider on top of the Google Cloud Video
// Intelligence and Cloud Vision REST APIs.
//
// Video analysis goes through the long-running videos:annotate operation,
// polled until done; image analysis goes through images:annotate. Both use
// Application Default Credentials via an oauth2 token source.
type Provider struct {
	cfg          providers.GoogleVideoConfig
	client       *http.Client
	tokenSource  oauth2.TokenSource
	videoBaseURL string
	imageBaseURL string
	logger       *zap.Logger
}

// New creates the provider. Credentials are resolved in Initialize.
func New(cfg providers.GoogleVideoConfig, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 300 * time.Second
	}
	return &Provider{
		cfg:          cfg,
		client:       &http.Client{Timeout: timeout},
		videoBaseURL: defaultVideoBaseURL,
		imageBaseURL: defaultImageBaseURL,
		logger:       logger,
	}
}

func (p *Provider) Name() vision.ProviderID { return vision.ProviderGoogleCloud }

// Initialize validates configuration and resolves Application Default
// Credentials.
func (p *Provider) Initialize(ctx context.Context) error {
	if p.cfg.ProjectID == "" {
		return types.NewError(types.ErrConfiguration, "google_cloud: project_id is required").
			WithProvider(string(p.Name()))
	}
	ts, err := google.DefaultTokenSource(ctx, cloudPlatformScope)
	if err != nil {
		return types.NewError(types.ErrAuthentication, "google_cloud: failed to resolve application default credentials").
			WithProvider(string(p.Name())).
			WithCause(err)
	}
	p.tokenSource = ts
	return nil
}

// Cleanup drops idle connections. Safe to call more than once.
func (p *Provider) Cleanup(ctx context.Context) error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *Provider) SupportedKinds() []vision.AnalysisKind {
	return []vision.AnalysisKind{
		vision.KindLabelDetection,
		vision.KindObjectTracking,
		vision.KindTextDetection,
		vision.KindOCR,
		vision.KindLogoRecognition,
		vision.KindShotDetection,
		vision.KindFaceDetection,
		vision.KindContentModeration,
	}
}

// EstimateCost follows the published per-feature per-minute pricing tier
// (first 1000 minutes ignored for simplicity).
func (p *Provider) EstimateCost(durationSeconds float64, kinds []vision.AnalysisKind) float64 {
	return (durationSeconds / 60) * 0.10 * float64(len(kinds))
}

func (p *Provider) GetServiceStatus(ctx context.Context) *vision.ServiceStatus {
	start := time.Now()
	endpoint := p.videoBaseURL + "/$discovery/rest?version=v1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &vision.ServiceStatus{Status: vision.StatusUnhealthy, Error: err.Error()}
	}
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
			Error:   fmt.Sprintf("discovery probe returned status %d", resp.StatusCode),
		}
	}
	return &vision.ServiceStatus{Status: vision.StatusHealthy, Latency: latency}
}

func (p *Provider) BatchAnalyze(ctx context.Context, assetRefs []string, kinds []vision.AnalysisKind) ([]*vision.VideoAnalysisResult, error) {
	return vision.SequentialBatchAnalyze(ctx, p, assetRefs, kinds)
}

// =============================================================================
// Video analysis (long-running operation)
// =============================================================================

// videoFeatures maps analysis kinds onto Video Intelligence feature enums.
var videoFeatures = map[vision.AnalysisKind]string{
	vision.KindLabelDetection:    "LABEL_DETECTION",
	vision.KindObjectTracking:    "OBJECT_TRACKING",
	vision.KindTextDetection:     "TEXT_DETECTION",
	vision.KindOCR:               "TEXT_DETECTION",
	vision.KindLogoRecognition:   "LOGO_RECOGNITION",
	vision.KindShotDetection:     "SHOT_CHANGE_DETECTION",
	vision.KindFaceDetection:     "FACE_DETECTION",
	vision.KindContentModeration: "EXPLICIT_CONTENT_DETECTION",
}

type annotateVideoRequest struct {
	InputURI   string   `json:"inputUri"`
	Features   []string `json:"features"`
	LocationID string   `json:"locationId,omitempty"`
}

type operationRef struct {
	Name string `json:"name"`
}

type operationStatus struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Response *annotateVideoResponse `json:"response,omitempty"`
}

type annotateVideoResponse struct {
	AnnotationResults []annotationResult `json:"annotationResults"`
}

type annotationResult struct {
	SegmentLabelAnnotations    []labelAnnotation  `json:"segmentLabelAnnotations,omitempty"`
	ShotAnnotations            []videoSegment     `json:"shotAnnotations,omitempty"`
	TextAnnotations            []textAnnotation   `json:"textAnnotations,omitempty"`
	ObjectAnnotations          []objectAnnotation `json:"objectAnnotations,omitempty"`
	LogoRecognitionAnnotations []logoAnnotation   `json:"logoRecognitionAnnotations,omitempty"`
	FaceDetectionAnnotations   []faceAnnotation   `json:"faceDetectionAnnotations,omitempty"`
	ExplicitAnnotation         *explicitAnnot     `json:"explicitAnnotation,omitempty"`
}

type entity struct {
	Description string `json:"description"`
}

type labelAnnotation struct {
	Entity   entity `json:"entity"`
	Segments []struct {
		Segment    videoSegment `json:"segment"`
		Confidence float64      `json:"confidence"`
	} `json:"segments"`
}

type videoSegment struct {
	StartTimeOffset string `json:"startTimeOffset"`
	EndTimeOffset   string `json:"endTimeOffset"`
}

type textAnnotation struct {
	Text     string `json:"text"`
	Segments []struct {
		Segment    videoSegment `json:"segment"`
		Confidence float64      `json:"confidence"`
	} `json:"segments"`
}

type objectAnnotation struct {
	Entity     entity       `json:"entity"`
	Confidence float64      `json:"confidence"`
	Segment    videoSegment `json:"segment"`
	Frames     []struct {
		NormalizedBoundingBox *normalizedBox `json:"normalizedBoundingBox,omitempty"`
		TimeOffset            string         `json:"timeOffset"`
	} `json:"frames,omitempty"`
}

type logoAnnotation struct {
	Entity entity `json:"entity"`
	Tracks []struct {
		Confidence float64 `json:"confidence"`
	} `json:"tracks,omitempty"`
}

type faceAnnotation struct {
	Tracks []struct {
		Confidence float64 `json:"confidence"`
	} `json:"tracks,omitempty"`
}

type explicitAnnot struct {
	Frames []struct {
		TimeOffset           string `json:"timeOffset"`
		PornographyLikelihood string `json:"pornographyLikelihood"`
	} `json:"frames,omitempty"`
}

type normalizedBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

func (p *Provider) AnalyzeVideo(ctx context.Context, assetRef string, kinds []vision.AnalysisKind) (*vision.VideoAnalysisResult, error) {
	start := time.Now()

	features := make([]string, 0, len(kinds))
	seen := make(map[string]struct{})
	for _, k := range kinds {
		f, ok := videoFeatures[k]
		if !ok {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		features = append(features, f)
	}

	body := annotateVideoRequest{
		InputURI:   assetRef,
		Features:   features,
		LocationID: p.cfg.LocationID,
	}
	var op operationRef
	if err := p.doJSON(ctx, http.MethodPost, p.videoBaseURL+"/v1/videos:annotate", body, &op); err != nil {
		return nil, err
	}

	resp, err := p.pollOperation(ctx, op.Name)
	if err != nil {
		return nil, err
	}

	result := &vision.VideoAnalysisResult{
		Provider:       p.Name(),
		AssetID:        assetRef,
		AnalysisKinds:  kinds,
		ProcessingTime: time.Since(start),
		Timestamp:      time.Now().UTC(),
	}
	if len(resp.AnnotationResults) > 0 {
		fillVideoResult(result, resp.AnnotationResults[0])
	}
	if len(result.Shots) > 0 {
		duration := result.Shots[len(result.Shots)-1].EndTime
		estimated := p.EstimateCost(duration, kinds)
		result.CostEstimate = &estimated
	}
	return result, nil
}

// pollOperation polls a long-running operation until done, the context
// expires, or the client timeout elapses.
func (p *Provider) pollOperation(ctx context.Context, name string) (*annotateVideoResponse, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		var status operationStatus
		if err := p.doJSON(ctx, http.MethodGet, p.videoBaseURL+"/v1/"+name, nil, &status); err != nil {
			return nil, err
		}
		if status.Done {
			if status.Error != nil {
				return nil, types.NewError(types.ErrCloudAI,
					fmt.Sprintf("google_cloud: annotation operation failed: %s", status.Error.Message)).
					WithProvider(string(p.Name()))
			}
			if status.Response == nil {
				return nil, types.NewError(types.ErrCloudAI, "google_cloud: operation finished without a response").
					WithProvider(string(p.Name()))
			}
			return status.Response, nil
		}

		select {
		case <-ctx.Done():
			return nil, types.NewError(types.ErrCloudAI, "google_cloud: annotation cancelled while polling").
				WithProvider(string(p.Name())).
				WithCause(ctx.Err())
		case <-ticker.C:
		}
	}
}

func fillVideoResult(result *vision.VideoAnalysisResult, ann annotationResult) {
	for _, l := range ann.SegmentLabelAnnotations {
		confidence := 0.0
		var ts *float64
		if len(l.Segments) > 0 {
			confidence = l.Segments[0].Confidence
			if v, ok := parseOffset(l.Segments[0].Segment.StartTimeOffset); ok {
				ts = &v
			}
		}
		result.Labels = append(result.Labels, vision.DetectionResult{
			Label:      l.Entity.Description,
			Confidence: clamp01(confidence),
			Timestamp:  ts,
		})
	}
	for _, s := range ann.ShotAnnotations {
		startT, _ := parseOffset(s.StartTimeOffset)
		endT, _ := parseOffset(s.EndTimeOffset)
		result.Shots = append(result.Shots, vision.Shot{StartTime: startT, EndTime: endT})
	}
	for _, t := range ann.TextAnnotations {
		confidence := 0.0
		var ts *float64
		if len(t.Segments) > 0 {
			confidence = t.Segments[0].Confidence
			if v, ok := parseOffset(t.Segments[0].Segment.StartTimeOffset); ok {
				ts = &v
			}
		}
		result.TextDetections = append(result.TextDetections, vision.DetectionResult{
			Label:      t.Text,
			Confidence: clamp01(confidence),
			Timestamp:  ts,
		})
	}
	for _, o := range ann.ObjectAnnotations {
		det := vision.DetectionResult{
			Label:      o.Entity.Description,
			Confidence: clamp01(o.Confidence),
		}
		if v, ok := parseOffset(o.Segment.StartTimeOffset); ok {
			det.Timestamp = &v
		}
		if len(o.Frames) > 0 && o.Frames[0].NormalizedBoundingBox != nil {
			det.BoundingBox = toBoundingBox(o.Frames[0].NormalizedBoundingBox)
		}
		result.Objects = append(result.Objects, det)
	}
	for _, l := range ann.LogoRecognitionAnnotations {
		confidence := 0.0
		if len(l.Tracks) > 0 {
			confidence = l.Tracks[0].Confidence
		}
		result.Logos = append(result.Logos, vision.DetectionResult{
			Label:      l.Entity.Description,
			Confidence: clamp01(confidence),
		})
	}
	for i, f := range ann.FaceDetectionAnnotations {
		confidence := 0.0
		if len(f.Tracks) > 0 {
			confidence = f.Tracks[0].Confidence
		}
		result.Faces = append(result.Faces, vision.DetectionResult{
			Label:      fmt.Sprintf("face_%d", i+1),
			Confidence: clamp01(confidence),
		})
	}
}

// =============================================================================
// Image analysis (Cloud Vision images:annotate)
// =============================================================================

var imageFeatures = map[vision.AnalysisKind]string{
	vision.KindLabelDetection:    "LABEL_DETECTION",
	vision.KindTextDetection:     "TEXT_DETECTION",
	vision.KindOCR:               "DOCUMENT_TEXT_DETECTION",
	vision.KindLogoRecognition:   "LOGO_DETECTION",
	vision.KindFaceDetection:     "FACE_DETECTION",
	vision.KindContentModeration: "SAFE_SEARCH_DETECTION",
}

type imageFeature struct {
	Type string `json:"type"`
}

type imageSource struct {
	ImageURI string `json:"imageUri"`
}

type imageRef struct {
	Source imageSource `json:"source"`
}

type singleImageRequest struct {
	Image    imageRef       `json:"image"`
	Features []imageFeature `json:"features"`
}

type imageAnnotateRequest struct {
	Requests []singleImageRequest `json:"requests"`
}

type imageAnnotateResponse struct {
	Responses []struct {
		LabelAnnotations []struct {
			Description string  `json:"description"`
			Score       float64 `json:"score"`
		} `json:"labelAnnotations,omitempty"`
		TextAnnotations []struct {
			Description string  `json:"description"`
			Score       float64 `json:"score"`
		} `json:"textAnnotations,omitempty"`
		LogoAnnotations []struct {
			Description string  `json:"description"`
			Score       float64 `json:"score"`
		} `json:"logoAnnotations,omitempty"`
		FaceAnnotations []struct {
			DetectionConfidence float64 `json:"detectionConfidence"`
		} `json:"faceAnnotations,omitempty"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error,omitempty"`
	} `json:"responses"`
}

func (p *Provider) AnalyzeImage(ctx context.Context, assetRef string, kinds []vision.AnalysisKind) (*vision.VideoAnalysisResult, error) {
	start := time.Now()

	single := singleImageRequest{Image: imageRef{Source: imageSource{ImageURI: assetRef}}}
	seen := make(map[string]struct{})
	for _, k := range kinds {
		f, ok := imageFeatures[k]
		if !ok {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		single.Features = append(single.Features, imageFeature{Type: f})
	}
	req := imageAnnotateRequest{Requests: []singleImageRequest{single}}

	var resp imageAnnotateResponse
	if err := p.doJSON(ctx, http.MethodPost, p.imageBaseURL+"/v1/images:annotate", req, &resp); err != nil {
		return nil, err
	}

	result := &vision.VideoAnalysisResult{
		Provider:       p.Name(),
		AssetID:        assetRef,
		AnalysisKinds:  kinds,
		ProcessingTime: time.Since(start),
		Timestamp:      time.Now().UTC(),
	}
	if len(resp.Responses) == 0 {
		return result, nil
	}
	r := resp.Responses[0]
	if r.Error != nil {
		return nil, types.NewError(types.ErrCloudAI,
			fmt.Sprintf("google_cloud: image annotation failed: %s", r.Error.Message)).
			WithProvider(string(p.Name()))
	}
	for _, l := range r.LabelAnnotations {
		result.Labels = append(result.Labels, vision.DetectionResult{Label: l.Description, Confidence: clamp01(l.Score)})
	}
	for _, t := range r.TextAnnotations {
		result.TextDetections = append(result.TextDetections, vision.DetectionResult{Label: t.Description, Confidence: clamp01(t.Score)})
	}
	for _, l := range r.LogoAnnotations {
		result.Logos = append(result.Logos, vision.DetectionResult{Label: l.Description, Confidence: clamp01(l.Score)})
	}
	for i, f := range r.FaceAnnotations {
		result.Faces = append(result.Faces, vision.DetectionResult{
			Label:      fmt.Sprintf("face_%d", i+1),
			Confidence: clamp01(f.DetectionConfidence),
		})
	}
	return result, nil
}

// =============================================================================
// Transport helpers
// =============================================================================

// doJSON performs an authenticated JSON round-trip and maps non-2xx
// statuses onto the shared error taxonomy.
func (p *Provider) doJSON(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return types.NewError(types.ErrCloudAI, "google_cloud: encode request").
				WithProvider(string(p.Name())).
				WithCause(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return types.NewError(types.ErrCloudAI, "google_cloud: build request").
			WithProvider(string(p.Name())).
			WithCause(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.tokenSource != nil {
		token, err := p.tokenSource.Token()
		if err != nil {
			return types.NewError(types.ErrAuthentication, "google_cloud: token refresh failed").
				WithProvider(string(p.Name())).
				WithCause(err)
		}
		token.SetAuthHeader(req)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return types.NewError(types.ErrServiceUnavailable, "google_cloud: request failed").
			WithProvider(string(p.Name())).
			WithRetryable(true).
			WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return p.mapHTTPError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return types.NewError(types.ErrCloudAI, "google_cloud: decode response").
				WithProvider(string(p.Name())).
				WithCause(err)
		}
	}
	return nil
}

func (p *Provider) mapHTTPError(resp *http.Response) error {
	msg := readErrMsg(resp.Body)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited,
			fmt.Sprintf("google_cloud: rate limited: %s", msg)).
			WithProvider(string(p.Name())).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(true)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.NewError(types.ErrAuthentication,
			fmt.Sprintf("google_cloud: credential rejected: %s", msg)).
			WithProvider(string(p.Name())).
			WithHTTPStatus(resp.StatusCode)
	case resp.StatusCode >= 500:
		return types.NewError(types.ErrServiceUnavailable,
			fmt.Sprintf("google_cloud: upstream error: %s", msg)).
			WithProvider(string(p.Name())).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(true)
	default:
		return types.NewError(types.ErrCloudAI,
			fmt.Sprintf("google_cloud: unexpected status %d: %s", resp.StatusCode, msg)).
			WithProvider(string(p.Name())).
			WithHTTPStatus(resp.StatusCode)
	}
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 2048))
	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Error.Message != "" {
		return wrapped.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// parseOffset converts a protobuf duration string like "12.500s" to seconds.
func parseOffset(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func toBoundingBox(b *normalizedBox) *vision.BoundingBox {
	return &vision.BoundingBox{
		X:      b.Left,
		Y:      b.Top,
		Width:  b.Right - b.Left,
		Height: b.Bottom - b.Top,
	}
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
