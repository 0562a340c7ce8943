package vision

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Provider is the capability contract every analysis backend implements.
// Implementations own their client handles and enforce their own configured
// timeout on every network call; the orchestrator imposes no deadline of
// its own beyond the caller's context.
type Provider interface {
	// Name returns the provider's immutable identity.
	Name() ProviderID

	// Initialize validates configuration and opens the backend client.
	// It fails with types.ErrConfiguration when a required field is
	// missing and types.ErrAuthentication when the credential is rejected.
	Initialize(ctx context.Context) error

	// Cleanup releases connections. It is idempotent.
	Cleanup(ctx context.Context) error

	// AnalyzeVideo analyzes one video asset for the given kinds. The kinds
	// passed in have already been intersected with SupportedKinds by the
	// orchestrator. Must not partially mutate shared state on failure.
	AnalyzeVideo(ctx context.Context, assetRef string, kinds []AnalysisKind) (*VideoAnalysisResult, error)

	// AnalyzeImage is the single-frame counterpart of AnalyzeVideo.
	AnalyzeImage(ctx context.Context, assetRef string, kinds []AnalysisKind) (*VideoAnalysisResult, error)

	// SupportedKinds reports which detection categories this backend can
	// produce. Pure, no I/O.
	SupportedKinds() []AnalysisKind

	// GetServiceStatus probes backend health. It never panics; internal
	// failures are reported as an unhealthy status.
	GetServiceStatus(ctx context.Context) *ServiceStatus

	// EstimateCost returns the estimated USD cost of analyzing
	// durationSeconds of footage for the given kinds. Pure function.
	EstimateCost(durationSeconds float64, kinds []AnalysisKind) float64

	// BatchAnalyze analyzes several assets. The default behavior (see
	// SequentialBatchAnalyze) is sequential with an inter-call delay;
	// providers may override with quota-aware concurrent batching.
	BatchAnalyze(ctx context.Context, assetRefs []string, kinds []AnalysisKind) ([]*VideoAnalysisResult, error)
}

// DefaultCostEstimate is the pricing fallback used by providers without a
// published pricing model: one cent per minute, halved per analysis kind.
func DefaultCostEstimate(durationSeconds float64, kinds []AnalysisKind) float64 {
	return (durationSeconds / 60) * 0.01 * (0.5 * float64(len(kinds)))
}

// batchCourtesyDelay is the fixed pause between sequential batch calls so a
// naive batch does not trip backend rate limits.
const batchCourtesyDelay = 500 * time.Millisecond

// SequentialBatchAnalyze is the default BatchAnalyze behavior: one asset at
// a time, paced by batchCourtesyDelay. Results for assets processed before
// the first failure are returned alongside the error.
func SequentialBatchAnalyze(ctx context.Context, p Provider, assetRefs []string, kinds []AnalysisKind) ([]*VideoAnalysisResult, error) {
	limiter := rate.NewLimiter(rate.Every(batchCourtesyDelay), 1)
	results := make([]*VideoAnalysisResult, 0, len(assetRefs))
	for _, ref := range assetRefs {
		if err := limiter.Wait(ctx); err != nil {
			return results, err
		}
		res, err := p.AnalyzeVideo(ctx, ref, kinds)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}
