package vision

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/config"
	"github.com/BaSui01/visionflow/types"
)

// ProviderFactory constructs a concrete provider from its config block.
// The canonical implementation lives in vision/factory; tests inject fakes.
type ProviderFactory interface {
	New(id ProviderID, cfg config.ProviderConfig) (Provider, error)
}

// Orchestrator unifies the analysis backends behind one contract: it routes
// a single request across providers with ordered fallback, fans a request
// out to every capable provider, and probes provider health.
//
// The active provider set is built once by Initialize and is read-only
// afterwards; there is no runtime provider hot-swap.
type Orchestrator struct {
	registry *Registry
	factory  ProviderFactory
	logger   *zap.Logger
	tracer   trace.Tracer

	fallbackOrder []ProviderID
	enabled       []ProviderID // config-enabled names, including ones that failed to initialize
}

// OrchestratorOptions tunes orchestrator construction.
type OrchestratorOptions struct {
	Logger *zap.Logger
	// FallbackOrder overrides the static fallback order. Mostly for tests.
	FallbackOrder []ProviderID
}

func normalizeOrchestratorOptions(opts OrchestratorOptions) OrchestratorOptions {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.FallbackOrder == nil {
		opts.FallbackOrder = FallbackOrder
	}
	return opts
}

// NewOrchestrator creates an orchestrator with an empty active set.
// Call Initialize to populate it from configuration.
func NewOrchestrator(factory ProviderFactory, opts OrchestratorOptions) *Orchestrator {
	opts = normalizeOrchestratorOptions(opts)
	return &Orchestrator{
		registry:      NewRegistry(),
		factory:       factory,
		logger:        opts.Logger,
		tracer:        otel.Tracer("visionflow/vision"),
		fallbackOrder: opts.FallbackOrder,
	}
}

// Initialize builds the active provider set from the nested provider map.
// Each enabled provider is constructed and initialized; any failure is
// logged at warn level and the provider is omitted from the active set.
// A single misconfigured provider never aborts startup, so Initialize only
// errors when the whole config map is nil.
func (o *Orchestrator) Initialize(ctx context.Context, cfgs map[string]config.ProviderConfig) error {
	if cfgs == nil {
		return types.NewError(types.ErrConfiguration, "provider configuration map is nil")
	}

	for _, id := range KnownProviders {
		cfg, ok := cfgs[string(id)]
		if !ok || !cfg.Enabled {
			continue
		}
		o.enabled = append(o.enabled, id)

		p, err := o.factory.New(id, cfg)
		if err != nil {
			o.logger.Warn("provider construction failed, omitting from active set",
				zap.String("provider", string(id)),
				zap.Error(err),
			)
			continue
		}
		if err := p.Initialize(ctx); err != nil {
			o.logger.Warn("provider initialization failed, omitting from active set",
				zap.String("provider", string(id)),
				zap.String("code", string(types.GetErrorCode(err))),
				zap.Error(err),
			)
			continue
		}
		o.registry.Register(p)
		o.logger.Info("provider initialized",
			zap.String("provider", string(id)),
			zap.Int("supported_kinds", len(p.SupportedKinds())),
		)
	}

	o.logger.Info("orchestrator initialized",
		zap.Int("active", o.registry.Len()),
		zap.Int("enabled", len(o.enabled)),
	)
	return nil
}

// Cleanup releases every active provider, logging and swallowing
// individual cleanup errors.
func (o *Orchestrator) Cleanup(ctx context.Context) {
	for id, p := range o.registry.Snapshot() {
		if err := p.Cleanup(ctx); err != nil {
			o.logger.Warn("provider cleanup failed",
				zap.String("provider", string(id)),
				zap.Error(err),
			)
		}
		o.registry.Unregister(id)
	}
}

// ActiveProviders returns the sorted identities of providers that
// initialized successfully.
func (o *Orchestrator) ActiveProviders() []ProviderID {
	return o.registry.List()
}

// EnabledProviders returns the identities enabled in configuration,
// including ones whose initialization failed.
func (o *Orchestrator) EnabledProviders() []ProviderID {
	out := make([]ProviderID, len(o.enabled))
	copy(out, o.enabled)
	return out
}

// =============================================================================
// Single-target routing
// =============================================================================

// AnalyzeVideo routes one video analysis request. The preferred provider is
// tried first; when req.UseFallback is set the static fallback order is
// appended (duplicates and inactive providers skipped). A provider whose
// supported kinds do not intersect the request is skipped without an
// attempt. The first success wins; exhaustion yields ALL_PROVIDERS_FAILED
// wrapping the last underlying cause.
func (o *Orchestrator) AnalyzeVideo(ctx context.Context, req *AnalyzeRequest) (*VideoAnalysisResult, error) {
	return o.analyzeRouted(ctx, "AnalyzeVideo", req, Provider.AnalyzeVideo)
}

// AnalyzeImage routes one single-frame request with the same candidate
// algorithm as AnalyzeVideo.
func (o *Orchestrator) AnalyzeImage(ctx context.Context, req *AnalyzeRequest) (*VideoAnalysisResult, error) {
	return o.analyzeRouted(ctx, "AnalyzeImage", req, Provider.AnalyzeImage)
}

type analyzeFn func(p Provider, ctx context.Context, assetRef string, kinds []AnalysisKind) (*VideoAnalysisResult, error)

func (o *Orchestrator) analyzeRouted(ctx context.Context, op string, req *AnalyzeRequest, call analyzeFn) (*VideoAnalysisResult, error) {
	if req == nil || req.AssetRef == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "asset reference is required")
	}
	if len(req.Kinds) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "at least one analysis kind is required")
	}

	ctx, span := o.tracer.Start(ctx, "vision."+op,
		trace.WithAttributes(
			attribute.String("vision.asset_ref", req.AssetRef),
			attribute.Int("vision.requested_kinds", len(req.Kinds)),
			attribute.Bool("vision.use_fallback", req.UseFallback),
		),
	)
	defer span.End()

	var lastErr error
	for _, id := range o.candidates(req.PreferredProvider, req.UseFallback) {
		p, ok := o.registry.Get(id)
		if !ok {
			continue
		}

		available := IntersectKinds(req.Kinds, p.SupportedKinds())
		if len(available) == 0 {
			// The provider cannot help; this is not a failure.
			continue
		}

		start := time.Now()
		res, err := call(p, ctx, req.AssetRef, available)
		observeProviderRequest(string(id), op, err, time.Since(start))
		if err != nil {
			// Every failure kind is treated uniformly for fallback; record
			// it and move to the next candidate.
			lastErr = err
			o.logger.Warn("provider analysis failed, trying next candidate",
				zap.String("provider", string(id)),
				zap.String("operation", op),
				zap.String("code", string(types.GetErrorCode(err))),
				zap.Error(err),
			)
			observeFallback(string(id))
			continue
		}

		res.Provider = id
		span.SetAttributes(attribute.String("vision.responding_provider", string(id)))
		return res, nil
	}

	return nil, types.NewError(types.ErrAllProvidersFailed,
		fmt.Sprintf("no provider could analyze %q", req.AssetRef)).
		WithCause(lastErr).
		WithRetryable(true)
}

// candidates builds the deterministic attempt order: preferred first when
// active, then (only with fallback enabled) the static fallback order
// minus duplicates and inactive providers. With fallback disabled the list
// has at most one element.
func (o *Orchestrator) candidates(preferred ProviderID, useFallback bool) []ProviderID {
	var order []ProviderID
	seen := make(map[ProviderID]struct{})

	if preferred != "" {
		if _, active := o.registry.Get(preferred); active {
			order = append(order, preferred)
			seen[preferred] = struct{}{}
		}
	}
	if !useFallback {
		return order
	}
	for _, id := range o.fallbackOrder {
		if _, dup := seen[id]; dup {
			continue
		}
		if _, active := o.registry.Get(id); !active {
			continue
		}
		order = append(order, id)
		seen[id] = struct{}{}
	}
	return order
}

// =============================================================================
// Fan-out
// =============================================================================

// MultiProviderAnalysis runs every capable active provider concurrently
// against the same asset. Each provider's failure is contained within its
// own task: it is logged, counted, and dropped, never propagated and never
// cancelling siblings. The returned slice holds only the successes, in
// arrival order; callers needing a stable order must re-sort by provider.
// Zero successes yields an empty slice, not an error.
func (o *Orchestrator) MultiProviderAnalysis(ctx context.Context, assetRef string, kinds []AnalysisKind) ([]*VideoAnalysisResult, error) {
	if assetRef == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "asset reference is required")
	}
	if len(kinds) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "at least one analysis kind is required")
	}

	ctx, span := o.tracer.Start(ctx, "vision.MultiProviderAnalysis",
		trace.WithAttributes(attribute.String("vision.asset_ref", assetRef)),
	)
	defer span.End()

	var (
		mu      sync.Mutex
		results []*VideoAnalysisResult
		wg      sync.WaitGroup
	)

	for id, p := range o.registry.Snapshot() {
		available := IntersectKinds(kinds, p.SupportedKinds())
		if len(available) == 0 {
			continue
		}

		wg.Add(1)
		go func(id ProviderID, p Provider, available []AnalysisKind) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("provider panicked during fan-out",
						zap.String("provider", string(id)),
						zap.Any("panic", r),
					)
				}
			}()

			start := time.Now()
			res, err := p.AnalyzeVideo(ctx, assetRef, available)
			observeProviderRequest(string(id), "MultiProviderAnalysis", err, time.Since(start))
			if err != nil {
				o.logger.Warn("provider dropped from fan-out",
					zap.String("provider", string(id)),
					zap.String("code", string(types.GetErrorCode(err))),
					zap.Error(err),
				)
				return
			}

			res.Provider = id
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(id, p, available)
	}
	wg.Wait()

	span.SetAttributes(attribute.Int("vision.successes", len(results)))
	if results == nil {
		results = []*VideoAnalysisResult{}
	}
	return results, nil
}

// =============================================================================
// Status fan-out and passthroughs
// =============================================================================

// GetProviderStatus probes every active provider in parallel. A failing or
// panicking probe yields an unavailable entry for that provider only; the
// call itself never fails.
func (o *Orchestrator) GetProviderStatus(ctx context.Context) map[ProviderID]ProviderStatus {
	var (
		mu  sync.Mutex
		out = make(map[ProviderID]ProviderStatus)
		wg  sync.WaitGroup
	)

	for id, p := range o.registry.Snapshot() {
		wg.Add(1)
		go func(id ProviderID, p Provider) {
			defer wg.Done()

			status := func() (st *ServiceStatus) {
				defer func() {
					if r := recover(); r != nil {
						st = &ServiceStatus{
							Status: StatusUnhealthy,
							Error:  fmt.Sprintf("status probe panicked: %v", r),
						}
					}
				}()
				return p.GetServiceStatus(ctx)
			}()
			if status == nil {
				status = &ServiceStatus{Status: StatusUnhealthy, Error: "status probe returned nil"}
			}

			entry := ProviderStatus{
				Available: status.Status == StatusHealthy,
				Status:    status,
				Error:     status.Error,
			}
			observeProviderHealth(string(id), entry.Available, status.Latency)

			mu.Lock()
			out[id] = entry
			mu.Unlock()
		}(id, p)
	}
	wg.Wait()
	return out
}

// BatchAnalyze routes a batch to a single provider chosen with the same
// candidate algorithm as AnalyzeVideo, then delegates batching to it.
func (o *Orchestrator) BatchAnalyze(ctx context.Context, assetRefs []string, req *AnalyzeRequest) ([]*VideoAnalysisResult, error) {
	if len(assetRefs) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "at least one asset reference is required")
	}

	var lastErr error
	for _, id := range o.candidates(req.PreferredProvider, req.UseFallback) {
		p, ok := o.registry.Get(id)
		if !ok {
			continue
		}
		available := IntersectKinds(req.Kinds, p.SupportedKinds())
		if len(available) == 0 {
			continue
		}
		results, err := p.BatchAnalyze(ctx, assetRefs, available)
		if err != nil {
			lastErr = err
			o.logger.Warn("provider batch failed, trying next candidate",
				zap.String("provider", string(id)),
				zap.Error(err),
			)
			continue
		}
		for _, r := range results {
			r.Provider = id
		}
		return results, nil
	}
	return nil, types.NewError(types.ErrAllProvidersFailed, "no provider could run the batch").
		WithCause(lastErr).
		WithRetryable(true)
}

// CostEstimate maps each capable active provider to its estimate for the
// given footage, sorted cheapest first.
type CostEstimate struct {
	Provider ProviderID `json:"provider"`
	Cost     float64    `json:"cost"`
}

// EstimateCost returns per-provider cost estimates for analyzing
// durationSeconds of footage, cheapest first. Providers that support none
// of the kinds are omitted.
func (o *Orchestrator) EstimateCost(durationSeconds float64, kinds []AnalysisKind) []CostEstimate {
	var out []CostEstimate
	for id, p := range o.registry.Snapshot() {
		available := IntersectKinds(kinds, p.SupportedKinds())
		if len(available) == 0 {
			continue
		}
		out = append(out, CostEstimate{Provider: id, Cost: p.EstimateCost(durationSeconds, available)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost < out[j].Cost
		}
		return out[i].Provider < out[j].Provider
	})
	return out
}
