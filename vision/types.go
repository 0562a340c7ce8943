package vision

import "time"

// ProviderID identifies a concrete analysis backend. It is immutable and
// used both as registry key and as the provenance tag on results.
type ProviderID string

const (
	ProviderGoogleCloud    ProviderID = "google_cloud"
	ProviderAWSRekognition ProviderID = "aws_rekognition"
	ProviderAzureVision    ProviderID = "azure_vision"
	ProviderAppleFastVLM   ProviderID = "apple_fastvlm"

	// ProviderAggregated tags a result produced by AggregateResults rather
	// than by a single backend.
	ProviderAggregated ProviderID = "aggregated"
)

// KnownProviders lists every provider the factory can construct, in the
// order they are attempted during initialization.
var KnownProviders = []ProviderID{
	ProviderGoogleCloud,
	ProviderAWSRekognition,
	ProviderAzureVision,
	ProviderAppleFastVLM,
}

// FallbackOrder is the static sequence tried after the preferred provider.
var FallbackOrder = []ProviderID{
	ProviderGoogleCloud,
	ProviderAWSRekognition,
	ProviderAzureVision,
}

// AnalysisKind is a requested category of detection.
type AnalysisKind string

const (
	KindObjectTracking    AnalysisKind = "object_tracking"
	KindOCR               AnalysisKind = "ocr"
	KindLabelDetection    AnalysisKind = "label_detection"
	KindLogoRecognition   AnalysisKind = "logo_recognition"
	KindShotDetection     AnalysisKind = "shot_detection"
	KindFaceDetection     AnalysisKind = "face_detection"
	KindTextDetection     AnalysisKind = "text_detection"
	KindContentModeration AnalysisKind = "content_moderation"
	KindSceneAnalysis     AnalysisKind = "scene_analysis"
)

// ParseAnalysisKind maps a wire string onto a known kind.
func ParseAnalysisKind(s string) (AnalysisKind, bool) {
	switch k := AnalysisKind(s); k {
	case KindObjectTracking, KindOCR, KindLabelDetection, KindLogoRecognition,
		KindShotDetection, KindFaceDetection, KindTextDetection,
		KindContentModeration, KindSceneAnalysis:
		return k, true
	}
	return "", false
}

// IntersectKinds returns the members of requested that the provider
// supports, preserving the requested order.
func IntersectKinds(requested, supported []AnalysisKind) []AnalysisKind {
	set := make(map[AnalysisKind]struct{}, len(supported))
	for _, k := range supported {
		set[k] = struct{}{}
	}
	var out []AnalysisKind
	for _, k := range requested {
		if _, ok := set[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// BoundingBox is a normalized (0-1) rectangle within the frame.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DetectionResult is a single detection. It is a value object and is never
// mutated after creation; confidence is always within [0,1].
type DetectionResult struct {
	Label       string         `json:"label"`
	Confidence  float64        `json:"confidence"`
	BoundingBox *BoundingBox   `json:"bounding_box,omitempty"`
	Timestamp   *float64       `json:"timestamp,omitempty"` // seconds from asset start
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Shot is a contiguous camera take detected in the asset.
type Shot struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// Scene is a semantically coherent segment with an optional description.
type Scene struct {
	Label      string  `json:"label,omitempty"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Confidence float64 `json:"confidence,omitempty"`
}

// VideoAnalysisResult is the aggregate outcome of analyzing one asset with
// one provider (or, when Provider is ProviderAggregated, the merge of
// several such results). AnalysisKinds always holds the subset of the
// request that the provider actually honored.
type VideoAnalysisResult struct {
	Provider       ProviderID        `json:"provider"`
	AssetID        string            `json:"asset_id"`
	AnalysisKinds  []AnalysisKind    `json:"analysis_kinds"`
	Objects        []DetectionResult `json:"objects,omitempty"`
	Labels         []DetectionResult `json:"labels,omitempty"`
	TextDetections []DetectionResult `json:"text_detections,omitempty"`
	Faces          []DetectionResult `json:"faces,omitempty"`
	Logos          []DetectionResult `json:"logos,omitempty"`
	Shots          []Shot            `json:"shots,omitempty"`
	Scenes         []Scene           `json:"scenes,omitempty"`
	ProcessingTime time.Duration     `json:"processing_time"`
	CostEstimate   *float64          `json:"cost_estimate,omitempty"`
	RawResponse    map[string]any    `json:"raw_response,omitempty"` // opaque debug payload
	Timestamp      time.Time         `json:"timestamp"`
}

// ServiceStatus is a best-effort health probe outcome.
type ServiceStatus struct {
	Status  string        `json:"status"` // "healthy" or "unhealthy"
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// ProviderStatus is one entry of the status fan-out.
type ProviderStatus struct {
	Available bool           `json:"available"`
	Status    *ServiceStatus `json:"status,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// AnalyzeRequest describes one routed analysis call.
type AnalyzeRequest struct {
	// AssetRef locates the asset: an https URL, a gs:// or s3:// URI,
	// whatever the targeted providers accept.
	AssetRef string `json:"asset_ref"`

	// Kinds are the requested detection categories.
	Kinds []AnalysisKind `json:"kinds"`

	// PreferredProvider, when set and active, is always tried first.
	PreferredProvider ProviderID `json:"preferred_provider,omitempty"`

	// UseFallback appends the static fallback order after the preferred
	// provider. When false, exactly one provider is attempted.
	UseFallback bool `json:"use_fallback"`
}
