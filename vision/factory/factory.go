// Package factory constructs concrete providers from configuration.
//
// It is the single place that knows about every provider package, keeping
// vision free of provider imports and the import graph acyclic.
package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/config"
	"github.com/BaSui01/visionflow/types"
	"github.com/BaSui01/visionflow/vision"
	"github.com/BaSui01/visionflow/vision/providers"
	"github.com/BaSui01/visionflow/vision/providers/azurevision"
	"github.com/BaSui01/visionflow/vision/providers/fastvlm"
	"github.com/BaSui01/visionflow/vision/providers/googlevideo"
	"github.com/BaSui01/visionflow/vision/providers/rekognition"
)

// Factory implements vision.ProviderFactory for the built-in providers.
type Factory struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{logger: logger}
}

// New builds the provider identified by id from its flat config section.
// Construction does not touch the network; credentials are only verified
// by the provider's Initialize.
func (f *Factory) New(id vision.ProviderID, cfg config.ProviderConfig) (vision.Provider, error) {
	logger := f.logger.With(zap.String("provider_id", string(id)))
	switch id {
	case vision.ProviderGoogleCloud:
		return googlevideo.New(providers.GoogleVideoConfig{
			ProjectID:  cfg.ProjectID,
			LocationID: cfg.LocationID,
			Timeout:    cfg.Timeout,
		}, logger), nil
	case vision.ProviderAWSRekognition:
		return rekognition.New(providers.RekognitionConfig{
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Region:          cfg.Region,
			Timeout:         cfg.Timeout,
		}, logger), nil
	case vision.ProviderAzureVision:
		return azurevision.New(providers.AzureVisionConfig{
			SubscriptionKey: cfg.SubscriptionKey,
			Endpoint:        cfg.Endpoint,
			Timeout:         cfg.Timeout,
		}, logger), nil
	case vision.ProviderAppleFastVLM:
		return fastvlm.New(providers.FastVLMConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger), nil
	default:
		return nil, types.NewError(types.ErrConfiguration,
			fmt.Sprintf("unknown provider %q", id))
	}
}
