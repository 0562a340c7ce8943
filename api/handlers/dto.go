package handlers

import (
	"github.com/BaSui01/visionflow/vision"
)

// =============================================================================
// 📦 Wire DTOs
// =============================================================================
// The HTTP boundary speaks camelCase regardless of the snake_case used by
// the domain types, so every upstream consumer sees one stable shape.

// AnalyzeRequestDTO is the analyze endpoint request body.
type AnalyzeRequestDTO struct {
	VideoURL          string   `json:"videoUrl"`
	ImageURL          string   `json:"imageUrl,omitempty"`
	AnalysisTypes     []string `json:"analysisTypes"`
	PreferredProvider string   `json:"preferredProvider,omitempty"`
	UseFallback       *bool    `json:"useFallback,omitempty"` // defaults to true
}

// BatchAnalyzeRequestDTO is the batch endpoint request body.
type BatchAnalyzeRequestDTO struct {
	VideoURLs         []string `json:"videoUrls"`
	AnalysisTypes     []string `json:"analysisTypes"`
	PreferredProvider string   `json:"preferredProvider,omitempty"`
	UseFallback       *bool    `json:"useFallback,omitempty"`
}

// DetectionDTO serializes one detection.
type DetectionDTO struct {
	Label       string          `json:"label"`
	Confidence  float64         `json:"confidence"`
	Timestamp   *float64        `json:"timestamp,omitempty"`
	BoundingBox *BoundingBoxDTO `json:"boundingBox,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

type BoundingBoxDTO struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type ShotDTO struct {
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

type SceneDTO struct {
	Label      string  `json:"label,omitempty"`
	StartTime  float64 `json:"startTime"`
	EndTime    float64 `json:"endTime"`
	Confidence float64 `json:"confidence,omitempty"`
}

// AnalysisResultDTO is the analyze endpoint response body.
type AnalysisResultDTO struct {
	VideoID        string         `json:"videoId"`
	Provider       string         `json:"provider"`
	ProcessingTime float64        `json:"processingTime"` // seconds
	AnalysisTypes  []string       `json:"analysisTypes"`
	Objects        []DetectionDTO `json:"objects"`
	Labels         []DetectionDTO `json:"labels"`
	TextDetections []DetectionDTO `json:"textDetections"`
	Faces          []DetectionDTO `json:"faces"`
	Logos          []DetectionDTO `json:"logos"`
	Shots          []ShotDTO      `json:"shots"`
	Scenes         []SceneDTO     `json:"scenes"`
	CostEstimate   *float64       `json:"costEstimate,omitempty"`
}

// ProviderStatusDTO is one entry of the status endpoint response.
type ProviderStatusDTO struct {
	Available bool   `json:"available"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StatusResponseDTO is the status endpoint response body.
type StatusResponseDTO struct {
	Providers          map[string]ProviderStatusDTO `json:"providers"`
	AvailableProviders []string                     `json:"availableProviders"`
	EnabledProviders   []string                     `json:"enabledProviders"`
}

// CostEstimateDTO is one entry of the cost endpoint response.
type CostEstimateDTO struct {
	Provider string  `json:"provider"`
	Cost     float64 `json:"cost"`
}

// =============================================================================
// 🎯 Domain ↔ DTO conversion
// =============================================================================

func toDetectionDTOs(in []vision.DetectionResult) []DetectionDTO {
	out := make([]DetectionDTO, 0, len(in))
	for _, d := range in {
		dto := DetectionDTO{
			Label:      d.Label,
			Confidence: d.Confidence,
			Timestamp:  d.Timestamp,
			Metadata:   d.Metadata,
		}
		if d.BoundingBox != nil {
			dto.BoundingBox = &BoundingBoxDTO{
				X:      d.BoundingBox.X,
				Y:      d.BoundingBox.Y,
				Width:  d.BoundingBox.Width,
				Height: d.BoundingBox.Height,
			}
		}
		out = append(out, dto)
	}
	return out
}

// ToResultDTO converts a domain result into its wire shape. Slices are
// always non-nil so consumers see [] instead of null.
func ToResultDTO(r *vision.VideoAnalysisResult) AnalysisResultDTO {
	kinds := make([]string, 0, len(r.AnalysisKinds))
	for _, k := range r.AnalysisKinds {
		kinds = append(kinds, string(k))
	}
	shots := make([]ShotDTO, 0, len(r.Shots))
	for _, s := range r.Shots {
		shots = append(shots, ShotDTO{StartTime: s.StartTime, EndTime: s.EndTime})
	}
	scenes := make([]SceneDTO, 0, len(r.Scenes))
	for _, s := range r.Scenes {
		scenes = append(scenes, SceneDTO{
			Label:      s.Label,
			StartTime:  s.StartTime,
			EndTime:    s.EndTime,
			Confidence: s.Confidence,
		})
	}
	return AnalysisResultDTO{
		VideoID:        r.AssetID,
		Provider:       string(r.Provider),
		ProcessingTime: r.ProcessingTime.Seconds(),
		AnalysisTypes:  kinds,
		Objects:        toDetectionDTOs(r.Objects),
		Labels:         toDetectionDTOs(r.Labels),
		TextDetections: toDetectionDTOs(r.TextDetections),
		Faces:          toDetectionDTOs(r.Faces),
		Logos:          toDetectionDTOs(r.Logos),
		Shots:          shots,
		Scenes:         scenes,
		CostEstimate:   r.CostEstimate,
	}
}

// ToResultDTOs converts a result list, preserving order.
func ToResultDTOs(rs []*vision.VideoAnalysisResult) []AnalysisResultDTO {
	out := make([]AnalysisResultDTO, 0, len(rs))
	for _, r := range rs {
		out = append(out, ToResultDTO(r))
	}
	return out
}
