package rekognition

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	rektypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/types"
	"github.com/BaSui01/visionflow/vision"
	"github.com/BaSui01/visionflow/vision/providers"
)

func newTestProvider() *Provider {
	return New(providers.RekognitionConfig{
		AccessKeyID:     "AKIA_TEST",
		SecretAccessKey: "secret",
		Region:          "us-east-1",
	}, zap.NewNop())
}

func TestParseS3Ref(t *testing.T) {
	p := newTestProvider()

	obj, err := p.parseS3Ref("s3://my-bucket/videos/clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", *obj.Bucket)
	assert.Equal(t, "videos/clip.mp4", *obj.Name)
}

func TestParseS3RefRejectsNonS3(t *testing.T) {
	p := newTestProvider()

	_, err := p.parseS3Ref("https://example.com/clip.mp4")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	_, err = p.parseS3Ref("s3://bucket-only")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestNormalizeConfidence(t *testing.T) {
	assert.Equal(t, 0.0, normalizeConfidence(nil))

	c := float32(87.5)
	assert.InDelta(t, 0.875, normalizeConfidence(&c), 1e-6)

	over := float32(150)
	assert.Equal(t, 1.0, normalizeConfidence(&over))
}

func TestToBoundingBox(t *testing.T) {
	box := toBoundingBox(&rektypes.BoundingBox{
		Left:   aws.Float32(0.1),
		Top:    aws.Float32(0.2),
		Width:  aws.Float32(0.3),
		Height: aws.Float32(0.4),
	})
	assert.InDelta(t, 0.1, box.X, 1e-6)
	assert.InDelta(t, 0.2, box.Y, 1e-6)
	assert.InDelta(t, 0.3, box.Width, 1e-6)
	assert.InDelta(t, 0.4, box.Height, 1e-6)

	// Nil fields default to zero rather than panicking.
	empty := toBoundingBox(&rektypes.BoundingBox{})
	assert.Equal(t, 0.0, empty.X)
}

func TestMapError(t *testing.T) {
	p := newTestProvider()

	tests := []struct {
		apiCode string
		want    types.ErrorCode
	}{
		{"ThrottlingException", types.ErrRateLimited},
		{"ProvisionedThroughputExceededException", types.ErrRateLimited},
		{"LimitExceededException", types.ErrQuotaExceeded},
		{"AccessDeniedException", types.ErrAuthentication},
		{"InvalidSignatureException", types.ErrAuthentication},
		{"ServiceUnavailableException", types.ErrServiceUnavailable},
		{"SomethingElseEntirely", types.ErrCloudAI},
	}
	for _, tt := range tests {
		err := p.mapError("DetectLabels", &smithy.GenericAPIError{Code: tt.apiCode, Message: "boom"})
		assert.Equal(t, tt.want, types.GetErrorCode(err), "api code %s", tt.apiCode)
	}

	// Non-API errors fall through to the generic bucket.
	err := p.mapError("DetectLabels", context.DeadlineExceeded)
	assert.Equal(t, types.ErrCloudAI, types.GetErrorCode(err))
}

func TestInitializeValidatesConfig(t *testing.T) {
	p := New(providers.RekognitionConfig{}, zap.NewNop())
	err := p.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
}

func TestSupportedKindsAreVideoAndImageRelevant(t *testing.T) {
	p := newTestProvider()
	kinds := p.SupportedKinds()
	assert.Contains(t, kinds, vision.KindLabelDetection)
	assert.Contains(t, kinds, vision.KindContentModeration)
	assert.NotContains(t, kinds, vision.KindShotDetection)
}

func TestEstimateCost(t *testing.T) {
	p := newTestProvider()
	// 2 minutes, 1 kind at $0.10/min.
	assert.InDelta(t, 0.2, p.EstimateCost(120, []vision.AnalysisKind{vision.KindLabelDetection}), 1e-9)
}
