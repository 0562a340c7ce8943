package googlevideo

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/types"
	"github.com/BaSui01/visionflow/vision"
	"github.com/BaSui01/visionflow/vision/providers"
)

func TestParseOffset(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"12.500s", 12.5, true},
		{"0s", 0, true},
		{"3600s", 3600, true},
		{"", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseOffset(tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
		if ok {
			assert.Equal(t, tt.want, got, "input %q", tt.in)
		}
	}
}

func TestToBoundingBox(t *testing.T) {
	box := toBoundingBox(&normalizedBox{Left: 0.1, Top: 0.2, Right: 0.6, Bottom: 0.9})
	assert.InDelta(t, 0.1, box.X, 1e-9)
	assert.InDelta(t, 0.2, box.Y, 1e-9)
	assert.InDelta(t, 0.5, box.Width, 1e-9)
	assert.InDelta(t, 0.7, box.Height, 1e-9)
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-0.5))
	assert.Equal(t, 1.0, clamp01(1.5))
	assert.Equal(t, 0.42, clamp01(0.42))
}

func TestVideoFeatureMapping(t *testing.T) {
	// Every supported kind maps to a Video Intelligence feature enum.
	p := New(providers.GoogleVideoConfig{ProjectID: "test"}, zap.NewNop())
	for _, k := range p.SupportedKinds() {
		_, ok := videoFeatures[k]
		assert.True(t, ok, "kind %s has no video feature", k)
	}
}

func TestEstimateCost(t *testing.T) {
	p := New(providers.GoogleVideoConfig{ProjectID: "test"}, zap.NewNop())
	// 10 minutes, 2 features at $0.10/min each.
	cost := p.EstimateCost(600, []vision.AnalysisKind{vision.KindLabelDetection, vision.KindOCR})
	assert.InDelta(t, 2.0, cost, 1e-9)
}

func TestInitializeRequiresProject(t *testing.T) {
	p := New(providers.GoogleVideoConfig{}, zap.NewNop())
	err := p.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
}

func TestReadErrMsg(t *testing.T) {
	msg := readErrMsg(strings.NewReader(`{"error":{"message":"quota exhausted"}}`))
	assert.Equal(t, "quota exhausted", msg)

	msg = readErrMsg(strings.NewReader("plain text failure\n"))
	assert.Equal(t, "plain text failure", msg)
}

func TestName(t *testing.T) {
	p := New(providers.GoogleVideoConfig{}, zap.NewNop())
	assert.Equal(t, vision.ProviderGoogleCloud, p.Name())
}
