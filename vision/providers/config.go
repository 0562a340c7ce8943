package providers

import "time"

// GoogleVideoConfig configures the Google Cloud Video Intelligence provider.
type GoogleVideoConfig struct {
	ProjectID  string        `json:"project_id" yaml:"project_id"`
	LocationID string        `json:"location_id,omitempty" yaml:"location_id,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// RekognitionConfig configures the AWS Rekognition provider.
type RekognitionConfig struct {
	AccessKeyID     string        `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key" yaml:"secret_access_key"`
	Region          string        `json:"region" yaml:"region"`
	Timeout         time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// AzureVisionConfig configures the Azure AI Vision provider.
type AzureVisionConfig struct {
	SubscriptionKey string        `json:"subscription_key" yaml:"subscription_key"`
	Endpoint        string        `json:"endpoint" yaml:"endpoint"`
	Timeout         time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// FastVLMConfig configures the self-hosted Apple FastVLM provider.
type FastVLMConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}
