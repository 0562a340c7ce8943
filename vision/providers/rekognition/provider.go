package rekognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	rek "github.com/aws/aws-sdk-go-v2/service/rekognition"
	rektypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/visionflow/types"
	"github.com/BaSui01/visionflow/vision"
	"github.com/BaSui01/visionflow/vision/providers"
)

const (
	// Video job polling cadence.
	pollInterval = 5 * time.Second

	// minConfidence filters backend noise; Rekognition reports 0-100.
	minConfidence = 50.0

	// batchConcurrency bounds the provider-aware concurrent batch override.
	batchConcurrency = 3
)

// Provider implements vision.Provider on top of AWS Rekognition.
//
// Images are analyzed synchronously (DetectLabels/DetectText/DetectFaces/
// DetectModerationLabels); videos go through the asynchronous Start/Get job
// pair and require an s3:// asset reference. Confidences arrive as 0-100
// and are normalized to [0,1].
type Provider struct {
	cfg    providers.RekognitionConfig
	client *rek.Client
	http   *http.Client
	logger *zap.Logger
}

// New creates the provider. The SDK client is opened in Initialize.
func New(cfg providers.RekognitionConfig, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 300 * time.Second
	}
	return &Provider{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (p *Provider) Name() vision.ProviderID { return vision.ProviderAWSRekognition }

// Initialize validates configuration, builds the SDK client, and verifies
// the credentials with a minimal ListCollections call.
func (p *Provider) Initialize(ctx context.Context) error {
	if p.cfg.AccessKeyID == "" || p.cfg.SecretAccessKey == "" {
		return types.NewError(types.ErrConfiguration, "aws_rekognition: access_key_id and secret_access_key are required").
			WithProvider(string(p.Name()))
	}
	if p.cfg.Region == "" {
		return types.NewError(types.ErrConfiguration, "aws_rekognition: region is required").
			WithProvider(string(p.Name()))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(p.cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(p.cfg.AccessKeyID, p.cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return types.NewError(types.ErrConfiguration, "aws_rekognition: load SDK config").
			WithProvider(string(p.Name())).
			WithCause(err)
	}
	p.client = rek.NewFromConfig(awsCfg)

	if _, err := p.client.ListCollections(ctx, &rek.ListCollectionsInput{MaxResults: aws.Int32(1)}); err != nil {
		return p.mapError("credential validation failed", err)
	}
	return nil
}

// Cleanup is a no-op for the SDK client; it holds no persistent
// connections beyond the shared transport. Idempotent.
func (p *Provider) Cleanup(ctx context.Context) error {
	p.http.CloseIdleConnections()
	return nil
}

func (p *Provider) SupportedKinds() []vision.AnalysisKind {
	return []vision.AnalysisKind{
		vision.KindLabelDetection,
		vision.KindObjectTracking,
		vision.KindTextDetection,
		vision.KindFaceDetection,
		vision.KindContentModeration,
	}
}

// EstimateCost follows Rekognition's per-minute video pricing per feature.
func (p *Provider) EstimateCost(durationSeconds float64, kinds []vision.AnalysisKind) float64 {
	return (durationSeconds / 60) * 0.10 * float64(len(kinds))
}

func (p *Provider) GetServiceStatus(ctx context.Context) *vision.ServiceStatus {
	if p.client == nil {
		return &vision.ServiceStatus{Status: vision.StatusUnhealthy, Error: "client not initialized"}
	}
	start := time.Now()
	_, err := p.client.ListCollections(ctx, &rek.ListCollectionsInput{MaxResults: aws.Int32(1)})
	latency := time.Since(start)
	if err != nil {
		return &vision.ServiceStatus{Status: vision.StatusUnhealthy, Latency: latency, Error: err.Error()}
	}
	return &vision.ServiceStatus{Status: vision.StatusHealthy, Latency: latency}
}

// BatchAnalyze overrides the sequential default with bounded concurrency:
// Rekognition tolerates a few parallel jobs per account, so assets are
// processed batchConcurrency at a time.
func (p *Provider) BatchAnalyze(ctx context.Context, assetRefs []string, kinds []vision.AnalysisKind) ([]*vision.VideoAnalysisResult, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)

	var mu sync.Mutex
	results := make([]*vision.VideoAnalysisResult, 0, len(assetRefs))
	for _, ref := range assetRefs {
		g.Go(func() error {
			res, err := p.AnalyzeVideo(ctx, ref, kinds)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// =============================================================================
// Video analysis (asynchronous jobs)
// =============================================================================

func (p *Provider) AnalyzeVideo(ctx context.Context, assetRef string, kinds []vision.AnalysisKind) (*vision.VideoAnalysisResult, error) {
	start := time.Now()

	s3obj, err := p.parseS3Ref(assetRef)
	if err != nil {
		return nil, err
	}
	video := &rektypes.Video{S3Object: s3obj}

	result := &vision.VideoAnalysisResult{
		Provider:      p.Name(),
		AssetID:       assetRef,
		AnalysisKinds: kinds,
		Timestamp:     time.Now().UTC(),
	}

	var (
		lastTimestampMs int64
		labelJobDone    bool
	)
	for _, k := range kinds {
		switch k {
		case vision.KindLabelDetection, vision.KindObjectTracking:
			// One label job serves both kinds; skip the duplicate.
			if labelJobDone {
				continue
			}
			labelJobDone = true
			maxTs, err := p.runLabelJob(ctx, video, result, containsKind(kinds, vision.KindObjectTracking))
			if err != nil {
				return nil, err
			}
			if maxTs > lastTimestampMs {
				lastTimestampMs = maxTs
			}
		case vision.KindContentModeration:
			maxTs, err := p.runModerationJob(ctx, video, result)
			if err != nil {
				return nil, err
			}
			if maxTs > lastTimestampMs {
				lastTimestampMs = maxTs
			}
		case vision.KindTextDetection:
			maxTs, err := p.runTextJob(ctx, video, result)
			if err != nil {
				return nil, err
			}
			if maxTs > lastTimestampMs {
				lastTimestampMs = maxTs
			}
		case vision.KindFaceDetection:
			maxTs, err := p.runFaceJob(ctx, video, result)
			if err != nil {
				return nil, err
			}
			if maxTs > lastTimestampMs {
				lastTimestampMs = maxTs
			}
		}
	}

	result.ProcessingTime = time.Since(start)
	duration := float64(lastTimestampMs) / 1000
	estimated := p.EstimateCost(duration, kinds)
	result.CostEstimate = &estimated
	return result, nil
}

func (p *Provider) runLabelJob(ctx context.Context, video *rektypes.Video, result *vision.VideoAnalysisResult, wantObjects bool) (int64, error) {
	started, err := p.client.StartLabelDetection(ctx, &rek.StartLabelDetectionInput{
		Video:         video,
		MinConfidence: aws.Float32(minConfidence),
	})
	if err != nil {
		return 0, p.mapError("start label detection", err)
	}

	var maxTs int64
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		out, err := p.client.GetLabelDetection(ctx, &rek.GetLabelDetectionInput{JobId: started.JobId})
		if err != nil {
			return 0, p.mapError("get label detection", err)
		}
		switch out.JobStatus {
		case rektypes.VideoJobStatusSucceeded:
			for _, l := range out.Labels {
				if l.Label == nil || l.Label.Name == nil {
					continue
				}
				if l.Timestamp > maxTs {
					maxTs = l.Timestamp
				}
				ts := float64(l.Timestamp) / 1000
				det := vision.DetectionResult{
					Label:      aws.ToString(l.Label.Name),
					Confidence: normalizeConfidence(l.Label.Confidence),
					Timestamp:  &ts,
				}
				if wantObjects && len(l.Label.Instances) > 0 {
					if box := l.Label.Instances[0].BoundingBox; box != nil {
						det.BoundingBox = toBoundingBox(box)
					}
					result.Objects = append(result.Objects, det)
					continue
				}
				result.Labels = append(result.Labels, det)
			}
			return maxTs, nil
		case rektypes.VideoJobStatusFailed:
			return 0, types.NewError(types.ErrCloudAI,
				fmt.Sprintf("aws_rekognition: label job failed: %s", aws.ToString(out.StatusMessage))).
				WithProvider(string(p.Name()))
		}

		select {
		case <-ctx.Done():
			return 0, types.NewError(types.ErrCloudAI, "aws_rekognition: label job cancelled while polling").
				WithProvider(string(p.Name())).
				WithCause(ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *Provider) runModerationJob(ctx context.Context, video *rektypes.Video, result *vision.VideoAnalysisResult) (int64, error) {
	started, err := p.client.StartContentModeration(ctx, &rek.StartContentModerationInput{
		Video:         video,
		MinConfidence: aws.Float32(minConfidence),
	})
	if err != nil {
		return 0, p.mapError("start content moderation", err)
	}

	var maxTs int64
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		out, err := p.client.GetContentModeration(ctx, &rek.GetContentModerationInput{JobId: started.JobId})
		if err != nil {
			return 0, p.mapError("get content moderation", err)
		}
		switch out.JobStatus {
		case rektypes.VideoJobStatusSucceeded:
			for _, m := range out.ModerationLabels {
				if m.ModerationLabel == nil || m.ModerationLabel.Name == nil {
					continue
				}
				if m.Timestamp > maxTs {
					maxTs = m.Timestamp
				}
				ts := float64(m.Timestamp) / 1000
				result.Labels = append(result.Labels, vision.DetectionResult{
					Label:      aws.ToString(m.ModerationLabel.Name),
					Confidence: normalizeConfidence(m.ModerationLabel.Confidence),
					Timestamp:  &ts,
					Metadata:   map[string]any{"moderation": true},
				})
			}
			return maxTs, nil
		case rektypes.VideoJobStatusFailed:
			return 0, types.NewError(types.ErrCloudAI,
				fmt.Sprintf("aws_rekognition: moderation job failed: %s", aws.ToString(out.StatusMessage))).
				WithProvider(string(p.Name()))
		}

		select {
		case <-ctx.Done():
			return 0, types.NewError(types.ErrCloudAI, "aws_rekognition: moderation job cancelled while polling").
				WithProvider(string(p.Name())).
				WithCause(ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *Provider) runTextJob(ctx context.Context, video *rektypes.Video, result *vision.VideoAnalysisResult) (int64, error) {
	started, err := p.client.StartTextDetection(ctx, &rek.StartTextDetectionInput{Video: video})
	if err != nil {
		return 0, p.mapError("start text detection", err)
	}

	var maxTs int64
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		out, err := p.client.GetTextDetection(ctx, &rek.GetTextDetectionInput{JobId: started.JobId})
		if err != nil {
			return 0, p.mapError("get text detection", err)
		}
		switch out.JobStatus {
		case rektypes.VideoJobStatusSucceeded:
			for _, t := range out.TextDetections {
				if t.TextDetection == nil || t.TextDetection.DetectedText == nil ||
					t.TextDetection.Type != rektypes.TextTypesLine {
					continue
				}
				if t.Timestamp > maxTs {
					maxTs = t.Timestamp
				}
				ts := float64(t.Timestamp) / 1000
				result.TextDetections = append(result.TextDetections, vision.DetectionResult{
					Label:      aws.ToString(t.TextDetection.DetectedText),
					Confidence: normalizeConfidence(t.TextDetection.Confidence),
					Timestamp:  &ts,
				})
			}
			return maxTs, nil
		case rektypes.VideoJobStatusFailed:
			return 0, types.NewError(types.ErrCloudAI,
				fmt.Sprintf("aws_rekognition: text job failed: %s", aws.ToString(out.StatusMessage))).
				WithProvider(string(p.Name()))
		}

		select {
		case <-ctx.Done():
			return 0, types.NewError(types.ErrCloudAI, "aws_rekognition: text job cancelled while polling").
				WithProvider(string(p.Name())).
				WithCause(ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *Provider) runFaceJob(ctx context.Context, video *rektypes.Video, result *vision.VideoAnalysisResult) (int64, error) {
	started, err := p.client.StartFaceDetection(ctx, &rek.StartFaceDetectionInput{Video: video})
	if err != nil {
		return 0, p.mapError("start face detection", err)
	}

	var maxTs int64
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		out, err := p.client.GetFaceDetection(ctx, &rek.GetFaceDetectionInput{JobId: started.JobId})
		if err != nil {
			return 0, p.mapError("get face detection", err)
		}
		switch out.JobStatus {
		case rektypes.VideoJobStatusSucceeded:
			for i, f := range out.Faces {
				if f.Face == nil {
					continue
				}
				if f.Timestamp > maxTs {
					maxTs = f.Timestamp
				}
				ts := float64(f.Timestamp) / 1000
				det := vision.DetectionResult{
					Label:      fmt.Sprintf("face_%d", i+1),
					Confidence: normalizeConfidence(f.Face.Confidence),
					Timestamp:  &ts,
				}
				if f.Face.BoundingBox != nil {
					det.BoundingBox = toBoundingBox(f.Face.BoundingBox)
				}
				result.Faces = append(result.Faces, det)
			}
			return maxTs, nil
		case rektypes.VideoJobStatusFailed:
			return 0, types.NewError(types.ErrCloudAI,
				fmt.Sprintf("aws_rekognition: face job failed: %s", aws.ToString(out.StatusMessage))).
				WithProvider(string(p.Name()))
		}

		select {
		case <-ctx.Done():
			return 0, types.NewError(types.ErrCloudAI, "aws_rekognition: face job cancelled while polling").
				WithProvider(string(p.Name())).
				WithCause(ctx.Err())
		case <-ticker.C:
		}
	}
}

// =============================================================================
// Image analysis (synchronous)
// =============================================================================

func (p *Provider) AnalyzeImage(ctx context.Context, assetRef string, kinds []vision.AnalysisKind) (*vision.VideoAnalysisResult, error) {
	start := time.Now()

	image, err := p.resolveImage(ctx, assetRef)
	if err != nil {
		return nil, err
	}

	result := &vision.VideoAnalysisResult{
		Provider:      p.Name(),
		AssetID:       assetRef,
		AnalysisKinds: kinds,
		Timestamp:     time.Now().UTC(),
	}

	for _, k := range kinds {
		switch k {
		case vision.KindLabelDetection, vision.KindObjectTracking:
			if len(result.Labels) > 0 || len(result.Objects) > 0 {
				continue
			}
			out, err := p.client.DetectLabels(ctx, &rek.DetectLabelsInput{
				Image:         image,
				MaxLabels:     aws.Int32(50),
				MinConfidence: aws.Float32(minConfidence),
			})
			if err != nil {
				return nil, p.mapError("detect labels", err)
			}
			for _, l := range out.Labels {
				if l.Name == nil {
					continue
				}
				det := vision.DetectionResult{
					Label:      aws.ToString(l.Name),
					Confidence: normalizeConfidence(l.Confidence),
				}
				if len(l.Instances) > 0 && l.Instances[0].BoundingBox != nil {
					det.BoundingBox = toBoundingBox(l.Instances[0].BoundingBox)
					result.Objects = append(result.Objects, det)
					continue
				}
				result.Labels = append(result.Labels, det)
			}
		case vision.KindTextDetection:
			out, err := p.client.DetectText(ctx, &rek.DetectTextInput{Image: image})
			if err != nil {
				return nil, p.mapError("detect text", err)
			}
			for _, t := range out.TextDetections {
				if t.DetectedText == nil || t.Type != rektypes.TextTypesLine {
					continue
				}
				det := vision.DetectionResult{
					Label:      aws.ToString(t.DetectedText),
					Confidence: normalizeConfidence(t.Confidence),
				}
				if t.Geometry != nil && t.Geometry.BoundingBox != nil {
					det.BoundingBox = toBoundingBox(t.Geometry.BoundingBox)
				}
				result.TextDetections = append(result.TextDetections, det)
			}
		case vision.KindFaceDetection:
			out, err := p.client.DetectFaces(ctx, &rek.DetectFacesInput{Image: image})
			if err != nil {
				return nil, p.mapError("detect faces", err)
			}
			for i, f := range out.FaceDetails {
				det := vision.DetectionResult{
					Label:      fmt.Sprintf("face_%d", i+1),
					Confidence: normalizeConfidence(f.Confidence),
				}
				if f.BoundingBox != nil {
					det.BoundingBox = toBoundingBox(f.BoundingBox)
				}
				result.Faces = append(result.Faces, det)
			}
		case vision.KindContentModeration:
			out, err := p.client.DetectModerationLabels(ctx, &rek.DetectModerationLabelsInput{
				Image:         image,
				MinConfidence: aws.Float32(minConfidence),
			})
			if err != nil {
				return nil, p.mapError("detect moderation labels", err)
			}
			for _, m := range out.ModerationLabels {
				if m.Name == nil {
					continue
				}
				result.Labels = append(result.Labels, vision.DetectionResult{
					Label:      aws.ToString(m.Name),
					Confidence: normalizeConfidence(m.Confidence),
					Metadata:   map[string]any{"moderation": true},
				})
			}
		}
	}

	result.ProcessingTime = time.Since(start)
	estimated := 0.001 * float64(len(kinds))
	result.CostEstimate = &estimated
	return result, nil
}

// =============================================================================
// Helpers
// =============================================================================

// parseS3Ref splits an s3://bucket/key reference into an S3Object.
func (p *Provider) parseS3Ref(assetRef string) (*rektypes.S3Object, error) {
	rest, ok := strings.CutPrefix(assetRef, "s3://")
	if !ok {
		return nil, types.NewError(types.ErrInvalidRequest,
			"aws_rekognition: video analysis requires an s3:// asset reference").
			WithProvider(string(p.Name()))
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return nil, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("aws_rekognition: malformed s3 reference %q", assetRef)).
			WithProvider(string(p.Name()))
	}
	return &rektypes.S3Object{Bucket: aws.String(bucket), Name: aws.String(key)}, nil
}

// resolveImage accepts either an s3:// reference or an http(s) URL; URLs
// are fetched and passed as raw bytes since Rekognition cannot pull them.
func (p *Provider) resolveImage(ctx context.Context, assetRef string) (*rektypes.Image, error) {
	if strings.HasPrefix(assetRef, "s3://") {
		obj, err := p.parseS3Ref(assetRef)
		if err != nil {
			return nil, err
		}
		return &rektypes.Image{S3Object: obj}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetRef, nil)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("aws_rekognition: invalid asset reference %q", assetRef)).
			WithProvider(string(p.Name())).
			WithCause(err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrCloudAI, "aws_rekognition: fetch image bytes").
			WithProvider(string(p.Name())).
			WithRetryable(true).
			WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, types.NewError(types.ErrCloudAI,
			fmt.Sprintf("aws_rekognition: image fetch returned status %d", resp.StatusCode)).
			WithProvider(string(p.Name()))
	}
	// Rekognition caps image byte payloads at 5 MiB.
	data, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, types.NewError(types.ErrCloudAI, "aws_rekognition: read image bytes").
			WithProvider(string(p.Name())).
			WithCause(err)
	}
	return &rektypes.Image{Bytes: data}, nil
}

// mapError classifies SDK errors onto the shared taxonomy.
func (p *Provider) mapError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ProvisionedThroughputExceededException":
			return types.NewError(types.ErrRateLimited,
				fmt.Sprintf("aws_rekognition: %s: throttled", op)).
				WithProvider(string(p.Name())).
				WithRetryable(true).
				WithCause(err)
		case "LimitExceededException", "ServiceQuotaExceededException":
			return types.NewError(types.ErrQuotaExceeded,
				fmt.Sprintf("aws_rekognition: %s: quota exceeded", op)).
				WithProvider(string(p.Name())).
				WithCause(err)
		case "AccessDeniedException", "UnrecognizedClientException", "InvalidSignatureException", "NotAuthorizedException":
			return types.NewError(types.ErrAuthentication,
				fmt.Sprintf("aws_rekognition: %s: credential rejected", op)).
				WithProvider(string(p.Name())).
				WithCause(err)
		case "InternalServerError", "ServiceUnavailableException":
			return types.NewError(types.ErrServiceUnavailable,
				fmt.Sprintf("aws_rekognition: %s: backend unavailable", op)).
				WithProvider(string(p.Name())).
				WithRetryable(true).
				WithCause(err)
		}
	}
	return types.NewError(types.ErrCloudAI, fmt.Sprintf("aws_rekognition: %s failed", op)).
		WithProvider(string(p.Name())).
		WithCause(err)
}

func normalizeConfidence(c *float32) float64 {
	if c == nil {
		return 0
	}
	v := float64(*c) / 100
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func toBoundingBox(b *rektypes.BoundingBox) *vision.BoundingBox {
	box := &vision.BoundingBox{}
	if b.Left != nil {
		box.X = float64(*b.Left)
	}
	if b.Top != nil {
		box.Y = float64(*b.Top)
	}
	if b.Width != nil {
		box.Width = float64(*b.Width)
	}
	if b.Height != nil {
		box.Height = float64(*b.Height)
	}
	return box
}

func containsKind(kinds []vision.AnalysisKind, want vision.AnalysisKind) bool {
	for _, k := range kinds {
		if k == want {
			return true
		}
	}
	return false
}
