package vision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/config"
	"github.com/BaSui01/visionflow/types"
)

// fakeProvider is a scriptable Provider for orchestrator tests.
type fakeProvider struct {
	id    ProviderID
	kinds []AnalysisKind

	initErr    error
	analyzeErr error
	analyzeFn  func(ctx context.Context, assetRef string, kinds []AnalysisKind) (*VideoAnalysisResult, error)
	status     *ServiceStatus
	cost       float64
	panicOn    bool

	mu    sync.Mutex
	calls []string // operation names in invocation order
}

func (f *fakeProvider) recordCall(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeProvider) Name() ProviderID                  { return f.id }
func (f *fakeProvider) Initialize(context.Context) error  { return f.initErr }
func (f *fakeProvider) Cleanup(context.Context) error     { return nil }
func (f *fakeProvider) SupportedKinds() []AnalysisKind    { return f.kinds }
func (f *fakeProvider) EstimateCost(_ float64, _ []AnalysisKind) float64 { return f.cost }

func (f *fakeProvider) AnalyzeVideo(ctx context.Context, assetRef string, kinds []AnalysisKind) (*VideoAnalysisResult, error) {
	f.recordCall("AnalyzeVideo")
	if f.panicOn {
		panic("provider blew up")
	}
	if f.analyzeFn != nil {
		return f.analyzeFn(ctx, assetRef, kinds)
	}
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	return &VideoAnalysisResult{
		AssetID:       assetRef,
		AnalysisKinds: kinds,
		Timestamp:     time.Now(),
	}, nil
}

func (f *fakeProvider) AnalyzeImage(ctx context.Context, assetRef string, kinds []AnalysisKind) (*VideoAnalysisResult, error) {
	f.recordCall("AnalyzeImage")
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	return &VideoAnalysisResult{AssetID: assetRef, AnalysisKinds: kinds, Timestamp: time.Now()}, nil
}

func (f *fakeProvider) GetServiceStatus(context.Context) *ServiceStatus {
	if f.panicOn {
		panic("status probe blew up")
	}
	if f.status != nil {
		return f.status
	}
	return &ServiceStatus{Status: StatusHealthy, Latency: time.Millisecond}
}

func (f *fakeProvider) BatchAnalyze(ctx context.Context, assetRefs []string, kinds []AnalysisKind) ([]*VideoAnalysisResult, error) {
	f.recordCall("BatchAnalyze")
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	out := make([]*VideoAnalysisResult, 0, len(assetRefs))
	for _, ref := range assetRefs {
		out = append(out, &VideoAnalysisResult{AssetID: ref, AnalysisKinds: kinds})
	}
	return out, nil
}

// fakeFactory hands out pre-built providers by id.
type fakeFactory struct {
	providers map[ProviderID]*fakeProvider
	newErr    map[ProviderID]error
}

func (f *fakeFactory) New(id ProviderID, _ config.ProviderConfig) (Provider, error) {
	if err := f.newErr[id]; err != nil {
		return nil, err
	}
	p, ok := f.providers[id]
	if !ok {
		return nil, types.NewError(types.ErrConfiguration, "no such provider in fake factory")
	}
	return p, nil
}

func newTestOrchestrator(t *testing.T, providers ...*fakeProvider) (*Orchestrator, *fakeFactory) {
	t.Helper()
	f := &fakeFactory{providers: make(map[ProviderID]*fakeProvider), newErr: make(map[ProviderID]error)}
	cfgs := make(map[string]config.ProviderConfig)
	for _, p := range providers {
		f.providers[p.id] = p
		cfgs[string(p.id)] = config.ProviderConfig{Enabled: true}
	}
	o := NewOrchestrator(f, OrchestratorOptions{Logger: zap.NewNop()})
	require.NoError(t, o.Initialize(context.Background(), cfgs))
	return o, f
}

func TestInitializeNilConfig(t *testing.T) {
	o := NewOrchestrator(&fakeFactory{}, OrchestratorOptions{})
	err := o.Initialize(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
}

func TestInitializeOmitsFailingProvider(t *testing.T) {
	good := &fakeProvider{id: ProviderGoogleCloud, kinds: []AnalysisKind{KindLabelDetection}}
	bad := &fakeProvider{
		id:      ProviderAWSRekognition,
		kinds:   []AnalysisKind{KindLabelDetection},
		initErr: types.NewError(types.ErrAuthentication, "bad key"),
	}
	o, _ := newTestOrchestrator(t, good, bad)

	assert.Equal(t, []ProviderID{ProviderGoogleCloud}, o.ActiveProviders())
	// The failed provider still shows up as enabled.
	assert.ElementsMatch(t, []ProviderID{ProviderGoogleCloud, ProviderAWSRekognition}, o.EnabledProviders())
}

func TestAnalyzeVideoPreferredFirst(t *testing.T) {
	google := &fakeProvider{id: ProviderGoogleCloud, kinds: []AnalysisKind{KindLabelDetection}}
	aws := &fakeProvider{id: ProviderAWSRekognition, kinds: []AnalysisKind{KindLabelDetection}}
	o, _ := newTestOrchestrator(t, google, aws)

	res, err := o.AnalyzeVideo(context.Background(), &AnalyzeRequest{
		AssetRef:          "gs://bucket/video.mp4",
		Kinds:             []AnalysisKind{KindLabelDetection},
		PreferredProvider: ProviderAWSRekognition,
		UseFallback:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, ProviderAWSRekognition, res.Provider)
	assert.Equal(t, 1, aws.callCount())
	assert.Equal(t, 0, google.callCount())
}

func TestAnalyzeVideoFallbackOrder(t *testing.T) {
	failing := types.NewError(types.ErrServiceUnavailable, "down").WithRetryable(true)
	google := &fakeProvider{id: ProviderGoogleCloud, kinds: []AnalysisKind{KindLabelDetection}, analyzeErr: failing}
	aws := &fakeProvider{id: ProviderAWSRekognition, kinds: []AnalysisKind{KindLabelDetection}}
	azure := &fakeProvider{id: ProviderAzureVision, kinds: []AnalysisKind{KindLabelDetection}}
	o, _ := newTestOrchestrator(t, google, aws, azure)

	res, err := o.AnalyzeVideo(context.Background(), &AnalyzeRequest{
		AssetRef:    "gs://bucket/video.mp4",
		Kinds:       []AnalysisKind{KindLabelDetection},
		UseFallback: true,
	})
	require.NoError(t, err)
	// Google fails, AWS is next in the static order and answers.
	assert.Equal(t, ProviderAWSRekognition, res.Provider)
	assert.Equal(t, 1, google.callCount())
	assert.Equal(t, 1, aws.callCount())
	assert.Equal(t, 0, azure.callCount())
}

func TestAnalyzeVideoNoFallbackSingleAttempt(t *testing.T) {
	failing := types.NewError(types.ErrRateLimited, "slow down").WithRetryable(true)
	google := &fakeProvider{id: ProviderGoogleCloud, kinds: []AnalysisKind{KindLabelDetection}, analyzeErr: failing}
	aws := &fakeProvider{id: ProviderAWSRekognition, kinds: []AnalysisKind{KindLabelDetection}}
	o, _ := newTestOrchestrator(t, google, aws)

	_, err := o.AnalyzeVideo(context.Background(), &AnalyzeRequest{
		AssetRef:          "gs://bucket/video.mp4",
		Kinds:             []AnalysisKind{KindLabelDetection},
		PreferredProvider: ProviderGoogleCloud,
		UseFallback:       false,
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrAllProvidersFailed, types.GetErrorCode(err))
	assert.Equal(t, 1, google.callCount())
	assert.Equal(t, 0, aws.callCount())

	// The underlying cause is preserved through the wrapper.
	var typed *types.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, types.ErrRateLimited, types.GetErrorCode(typed.Unwrap()))
}

func TestAnalyzeVideoSkipsIncapableProvider(t *testing.T) {
	// Google only does shots; the request wants labels, so Google is
	// skipped without an attempt and AWS answers.
	google := &fakeProvider{id: ProviderGoogleCloud, kinds: []AnalysisKind{KindShotDetection}}
	aws := &fakeProvider{id: ProviderAWSRekognition, kinds: []AnalysisKind{KindLabelDetection}}
	o, _ := newTestOrchestrator(t, google, aws)

	res, err := o.AnalyzeVideo(context.Background(), &AnalyzeRequest{
		AssetRef:    "gs://bucket/video.mp4",
		Kinds:       []AnalysisKind{KindLabelDetection},
		UseFallback: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ProviderAWSRekognition, res.Provider)
	assert.Equal(t, 0, google.callCount())
}

func TestAnalyzeVideoNoCapableProvider(t *testing.T) {
	google := &fakeProvider{id: ProviderGoogleCloud, kinds: []AnalysisKind{KindShotDetection}}
	o, _ := newTestOrchestrator(t, google)

	_, err := o.AnalyzeVideo(context.Background(), &AnalyzeRequest{
		AssetRef:    "gs://bucket/video.mp4",
		Kinds:       []AnalysisKind{KindLabelDetection},
		UseFallback: true,
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrAllProvidersFailed, types.GetErrorCode(err))
	assert.Equal(t, 0, google.callCount())
}

func TestAnalyzeVideoProviderOnlyGetsSupportedKinds(t *testing.T) {
	var got []AnalysisKind
	google := &fakeProvider{
		id:    ProviderGoogleCloud,
		kinds: []AnalysisKind{KindLabelDetection, KindShotDetection},
		analyzeFn: func(_ context.Context, assetRef string, kinds []AnalysisKind) (*VideoAnalysisResult, error) {
			got = kinds
			return &VideoAnalysisResult{AssetID: assetRef, AnalysisKinds: kinds}, nil
		},
	}
	o, _ := newTestOrchestrator(t, google)

	_, err := o.AnalyzeVideo(context.Background(), &AnalyzeRequest{
		AssetRef:    "gs://bucket/video.mp4",
		Kinds:       []AnalysisKind{KindLabelDetection, KindFaceDetection, KindShotDetection},
		UseFallback: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []AnalysisKind{KindLabelDetection, KindShotDetection}, got)
}

func TestAnalyzeVideoInactivePreferredFallsThrough(t *testing.T) {
	// Only Google is active; requesting AWS with fallback enabled must end
	// at Google with the result tagged accordingly.
	google := &fakeProvider{id: ProviderGoogleCloud, kinds: []AnalysisKind{KindLabelDetection}}
	o, _ := newTestOrchestrator(t, google)

	res, err := o.AnalyzeVideo(context.Background(), &AnalyzeRequest{
		AssetRef:          "gs://bucket/video.mp4",
		Kinds:             []AnalysisKind{KindLabelDetection},
		PreferredProvider: ProviderAWSRekognition,
		UseFallback:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, ProviderGoogleCloud, res.Provider)
}

func TestAnalyzeVideoInvalidRequest(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	_, err := o.AnalyzeVideo(context.Background(), &AnalyzeRequest{Kinds: []AnalysisKind{KindOCR}})
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	_, err = o.AnalyzeVideo(context.Background(), &AnalyzeRequest{AssetRef: "gs://b/v.mp4"})
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestMultiProviderAnalysisPartialFailure(t *testing.T) {
	failing := types.NewError(types.ErrCloudAI, "backend exploded")
	google := &fakeProvider{id: ProviderGoogleCloud, kinds: []AnalysisKind{KindLabelDetection}}
	aws := &fakeProvider{id: ProviderAWSRekognition, kinds: []AnalysisKind{KindLabelDetection}, analyzeErr: failing}
	azure := &fakeProvider{id: ProviderAzureVision, kinds: []AnalysisKind{KindLabelDetection}}
	o, _ := newTestOrchestrator(t, google, aws, azure)

	results, err := o.MultiProviderAnalysis(context.Background(), "gs://bucket/video.mp4", []AnalysisKind{KindLabelDetection})
	require.NoError(t, err)
	require.Len(t, results, 2)

	got := map[ProviderID]bool{}
	for _, r := range results {
		got[r.Provider] = true
	}
	assert.True(t, got[ProviderGoogleCloud])
	assert.True(t, got[ProviderAzureVision])
	assert.False(t, got[ProviderAWSRekognition])
}

func TestMultiProviderAnalysisContainsPanic(t *testing.T) {
	google := &fakeProvider{id: ProviderGoogleCloud, kinds: []AnalysisKind{KindLabelDetection}}
	aws := &fakeProvider{id: ProviderAWSRekognition, kinds: []AnalysisKind{KindLabelDetection}, panicOn: true}
	o, _ := newTestOrchestrator(t, google, aws)

	results, err := o.MultiProviderAnalysis(context.Background(), "gs://bucket/video.mp4", []AnalysisKind{KindLabelDetection})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ProviderGoogleCloud, results[0].Provider)
}

func TestMultiProviderAnalysisZeroSuccesses(t *testing.T) {
	failing := types.NewError(types.ErrServiceUnavailable, "down")
	google := &fakeProvider{id: ProviderGoogleCloud, kinds: []AnalysisKind{KindLabelDetection}, analyzeErr: failing}
	o, _ := newTestOrchestrator(t, google)

	results, err := o.MultiProviderAnalysis(context.Background(), "gs://bucket/video.mp4", []AnalysisKind{KindLabelDetection})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestMultiProviderAnalysisSkipsIncapable(t *testing.T) {
	google := &fakeProvider{id: ProviderGoogleCloud, kinds: []AnalysisKind{KindShotDetection}}
	aws := &fakeProvider{id: ProviderAWSRekognition, kinds: []AnalysisKind{KindLabelDetection}}
	o, _ := newTestOrchestrator(t, google, aws)

	results, err := o.MultiProviderAnalysis(context.Background(), "gs://bucket/video.mp4", []AnalysisKind{KindLabelDetection})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ProviderAWSRekognition, results[0].Provider)
	assert.Equal(t, 0, google.callCount())
}

func TestGetProviderStatus(t *testing.T) {
	healthy := &fakeProvider{id: ProviderGoogleCloud, kinds: []AnalysisKind{KindLabelDetection}}
	unhealthy := &fakeProvider{
		id:     ProviderAWSRekognition,
		kinds:  []AnalysisKind{KindLabelDetection},
		status: &ServiceStatus{Status: StatusUnhealthy, Error: "listCollections failed"},
	}
	panicking := &fakeProvider{id: ProviderAzureVision, kinds: []AnalysisKind{KindLabelDetection}, panicOn: true}
	o, _ := newTestOrchestrator(t, healthy, unhealthy, panicking)

	out := o.GetProviderStatus(context.Background())
	require.Len(t, out, 3)

	assert.True(t, out[ProviderGoogleCloud].Available)
	assert.False(t, out[ProviderAWSRekognition].Available)
	assert.Equal(t, "listCollections failed", out[ProviderAWSRekognition].Error)
	assert.False(t, out[ProviderAzureVision].Available)
	assert.Contains(t, out[ProviderAzureVision].Error, "panicked")
}

func TestBatchAnalyzeRoutesAndTags(t *testing.T) {
	google := &fakeProvider{id: ProviderGoogleCloud, kinds: []AnalysisKind{KindLabelDetection}}
	o, _ := newTestOrchestrator(t, google)

	results, err := o.BatchAnalyze(context.Background(),
		[]string{"gs://b/a.mp4", "gs://b/b.mp4"},
		&AnalyzeRequest{Kinds: []AnalysisKind{KindLabelDetection}, UseFallback: true},
	)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, ProviderGoogleCloud, r.Provider)
	}
}

func TestBatchAnalyzeEmptyRefs(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	_, err := o.BatchAnalyze(context.Background(), nil, &AnalyzeRequest{Kinds: []AnalysisKind{KindOCR}})
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestEstimateCostSortedCheapestFirst(t *testing.T) {
	google := &fakeProvider{id: ProviderGoogleCloud, kinds: []AnalysisKind{KindLabelDetection}, cost: 0.50}
	aws := &fakeProvider{id: ProviderAWSRekognition, kinds: []AnalysisKind{KindLabelDetection}, cost: 0.10}
	fastvlm := &fakeProvider{id: ProviderAppleFastVLM, kinds: []AnalysisKind{KindLabelDetection}, cost: 0}
	incapable := &fakeProvider{id: ProviderAzureVision, kinds: []AnalysisKind{KindFaceDetection}, cost: 0.01}
	o, _ := newTestOrchestrator(t, google, aws, fastvlm, incapable)

	out := o.EstimateCost(300, []AnalysisKind{KindLabelDetection})
	require.Len(t, out, 3)
	assert.Equal(t, ProviderAppleFastVLM, out[0].Provider)
	assert.Equal(t, ProviderAWSRekognition, out[1].Provider)
	assert.Equal(t, ProviderGoogleCloud, out[2].Provider)
}

func TestCleanupEmptiesActiveSet(t *testing.T) {
	google := &fakeProvider{id: ProviderGoogleCloud, kinds: []AnalysisKind{KindLabelDetection}}
	o, _ := newTestOrchestrator(t, google)
	require.Len(t, o.ActiveProviders(), 1)

	o.Cleanup(context.Background())
	assert.Empty(t, o.ActiveProviders())
}
