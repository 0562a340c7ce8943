package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/types"
	"github.com/BaSui01/visionflow/vision"
)

// =============================================================================
// 🎬 Analysis handlers
// =============================================================================

// Analyzer is the orchestrator surface the handlers need. The concrete
// implementation is *vision.Orchestrator; tests substitute a fake.
type Analyzer interface {
	AnalyzeVideo(ctx context.Context, req *vision.AnalyzeRequest) (*vision.VideoAnalysisResult, error)
	AnalyzeImage(ctx context.Context, req *vision.AnalyzeRequest) (*vision.VideoAnalysisResult, error)
	MultiProviderAnalysis(ctx context.Context, assetRef string, kinds []vision.AnalysisKind) ([]*vision.VideoAnalysisResult, error)
	BatchAnalyze(ctx context.Context, assetRefs []string, req *vision.AnalyzeRequest) ([]*vision.VideoAnalysisResult, error)
	EstimateCost(durationSeconds float64, kinds []vision.AnalysisKind) []vision.CostEstimate
}

// AnalyzeHandler serves the /v1/analyze endpoint family.
type AnalyzeHandler struct {
	analyzer Analyzer
	logger   *zap.Logger
}

func NewAnalyzeHandler(analyzer Analyzer, logger *zap.Logger) *AnalyzeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyzeHandler{analyzer: analyzer, logger: logger}
}

// decodeAnalyzeRequest validates the body and converts it to the domain
// request. Unknown analysis types are rejected rather than silently dropped.
func decodeAnalyzeRequest(r *http.Request) (*vision.AnalyzeRequest, string, *types.Error) {
	var dto AnalyzeRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		return nil, "", types.NewError(types.ErrInvalidRequest, "malformed JSON body").WithCause(err)
	}
	assetRef := dto.VideoURL
	if assetRef == "" {
		assetRef = dto.ImageURL
	}
	if assetRef == "" {
		return nil, "", types.NewError(types.ErrInvalidRequest, "videoUrl is required")
	}
	if len(dto.AnalysisTypes) == 0 {
		return nil, "", types.NewError(types.ErrInvalidRequest, "analysisTypes must not be empty")
	}
	kinds := make([]vision.AnalysisKind, 0, len(dto.AnalysisTypes))
	for _, t := range dto.AnalysisTypes {
		k, ok := vision.ParseAnalysisKind(t)
		if !ok {
			return nil, "", types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("unknown analysis type %q", t))
		}
		kinds = append(kinds, k)
	}
	useFallback := true
	if dto.UseFallback != nil {
		useFallback = *dto.UseFallback
	}
	return &vision.AnalyzeRequest{
		AssetRef:          assetRef,
		Kinds:             kinds,
		PreferredProvider: vision.ProviderID(dto.PreferredProvider),
		UseFallback:       useFallback,
	}, assetRef, nil
}

// HandleAnalyzeVideo handles POST /v1/analyze.
func (h *AnalyzeHandler) HandleAnalyzeVideo(w http.ResponseWriter, r *http.Request) {
	req, _, verr := decodeAnalyzeRequest(r)
	if verr != nil {
		WriteError(w, verr, h.logger)
		return
	}
	result, err := h.analyzer.AnalyzeVideo(r.Context(), req)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, ToResultDTO(result))
}

// HandleAnalyzeImage handles POST /v1/analyze/image.
func (h *AnalyzeHandler) HandleAnalyzeImage(w http.ResponseWriter, r *http.Request) {
	req, _, verr := decodeAnalyzeRequest(r)
	if verr != nil {
		WriteError(w, verr, h.logger)
		return
	}
	result, err := h.analyzer.AnalyzeImage(r.Context(), req)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, ToResultDTO(result))
}

// HandleMultiAnalyze handles POST /v1/analyze/multi.
//
// By default the response carries one result per provider that succeeded.
// With ?aggregate=true the results are merged into a single consensus
// result; zero successes then yields a 503 instead of an empty array.
func (h *AnalyzeHandler) HandleMultiAnalyze(w http.ResponseWriter, r *http.Request) {
	req, assetRef, verr := decodeAnalyzeRequest(r)
	if verr != nil {
		WriteError(w, verr, h.logger)
		return
	}
	results, err := h.analyzer.MultiProviderAnalysis(r.Context(), assetRef, req.Kinds)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	if r.URL.Query().Get("aggregate") == "true" {
		merged, err := vision.AggregateResults(results)
		if err != nil {
			WriteAnyError(w, err, h.logger)
			return
		}
		WriteSuccess(w, ToResultDTO(merged))
		return
	}
	WriteSuccess(w, ToResultDTOs(results))
}

// HandleBatchAnalyze handles POST /v1/analyze/batch.
func (h *AnalyzeHandler) HandleBatchAnalyze(w http.ResponseWriter, r *http.Request) {
	var dto BatchAnalyzeRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "malformed JSON body").WithCause(err), h.logger)
		return
	}
	if len(dto.VideoURLs) == 0 {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "videoUrls must not be empty"), h.logger)
		return
	}
	if len(dto.AnalysisTypes) == 0 {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "analysisTypes must not be empty"), h.logger)
		return
	}
	kinds := make([]vision.AnalysisKind, 0, len(dto.AnalysisTypes))
	for _, t := range dto.AnalysisTypes {
		k, ok := vision.ParseAnalysisKind(t)
		if !ok {
			WriteError(w, types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("unknown analysis type %q", t)), h.logger)
			return
		}
		kinds = append(kinds, k)
	}
	useFallback := true
	if dto.UseFallback != nil {
		useFallback = *dto.UseFallback
	}
	req := &vision.AnalyzeRequest{
		Kinds:             kinds,
		PreferredProvider: vision.ProviderID(dto.PreferredProvider),
		UseFallback:       useFallback,
	}
	results, err := h.analyzer.BatchAnalyze(r.Context(), dto.VideoURLs, req)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, ToResultDTOs(results))
}

// HandleEstimateCost handles POST /v1/cost/estimate.
func (h *AnalyzeHandler) HandleEstimateCost(w http.ResponseWriter, r *http.Request) {
	var dto struct {
		DurationSeconds float64  `json:"durationSeconds"`
		AnalysisTypes   []string `json:"analysisTypes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "malformed JSON body").WithCause(err), h.logger)
		return
	}
	kinds := make([]vision.AnalysisKind, 0, len(dto.AnalysisTypes))
	for _, t := range dto.AnalysisTypes {
		k, ok := vision.ParseAnalysisKind(t)
		if !ok {
			WriteError(w, types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("unknown analysis type %q", t)), h.logger)
			return
		}
		kinds = append(kinds, k)
	}
	estimates := h.analyzer.EstimateCost(dto.DurationSeconds, kinds)
	out := make([]CostEstimateDTO, 0, len(estimates))
	for _, e := range estimates {
		out = append(out, CostEstimateDTO{Provider: string(e.Provider), Cost: e.Cost})
	}
	WriteSuccess(w, out)
}
