package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jaypaulb/sdbridge/sdruntime"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProviderConfig configures an OpenAIProvider.
type OpenAIProviderConfig struct {
	// APIKey is required.
	APIKey string
	// BaseURL defaults to https://api.openai.com/v1. Azure endpoints are
	// detected and use the Azure auth scheme with Model as deployment name.
	BaseURL string
	// Model defaults to dall-e-3.
	Model string
	// Timeout bounds a single API call. Default 120s.
	Timeout time.Duration
	// HTTPClient overrides the transport, e.g. in tests.
	HTTPClient *http.Client
}

// OpenAIProvider generates images through the OpenAI images API. The
// remote service does not accept seeds, samplers or step counts; only
// prompt, size and batch count are forwarded.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	closed atomic.Bool
}

// NewOpenAIProvider validates cfg and builds the client.
func NewOpenAIProvider(cfg OpenAIProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("imagegen: OpenAI API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = openai.CreateImageModelDallE3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	var clientConfig openai.ClientConfig
	if IsAzureEndpoint(cfg.BaseURL) {
		clientConfig = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
		model := cfg.Model
		clientConfig.AzureModelMapperFunc = func(string) string { return model }
	} else {
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	} else {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}, nil
}

// IsAzureEndpoint reports whether endpoint is an Azure OpenAI resource.
func IsAzureEndpoint(endpoint string) bool {
	lower := strings.ToLower(endpoint)
	return strings.Contains(lower, "openai.azure.com") ||
		strings.Contains(lower, "cognitiveservices.azure.com")
}

// ImageSize picks the closest size the model accepts for width x height.
func ImageSize(model string, width, height int) string {
	if model == openai.CreateImageModelDallE2 {
		switch side := max(width, height); {
		case side <= 256:
			return openai.CreateImageSize256x256
		case side <= 512:
			return openai.CreateImageSize512x512
		default:
			return openai.CreateImageSize1024x1024
		}
	}
	switch {
	case width > height:
		return openai.CreateImageSize1792x1024
	case height > width:
		return openai.CreateImageSize1024x1792
	default:
		return openai.CreateImageSize1024x1024
	}
}

// Generate implements Provider. dall-e-3 only accepts n=1, so batches are
// issued as sequential requests.
func (p *OpenAIProvider) Generate(ctx context.Context, params sdruntime.GenerateParams) (*Result, error) {
	if p.closed.Load() {
		return nil, ErrProviderClosed
	}
	if err := sdruntime.ValidatePrompt(params.Prompt); err != nil {
		return nil, err
	}

	batch := params.BatchCount
	if batch <= 0 {
		batch = 1
	}
	params.BatchCount = batch

	perRequest := batch
	if p.model != openai.CreateImageModelDallE2 {
		perRequest = 1
	}

	prompt := params.Prompt
	if params.NegativePrompt != "" {
		prompt += "\nAvoid: " + params.NegativePrompt
	}

	start := time.Now()
	images := make([]sdruntime.Image, 0, batch)
	for len(images) < batch {
		n := min(perRequest, batch-len(images))
		resp, err := p.client.CreateImage(ctx, openai.ImageRequest{
			Prompt:         prompt,
			Model:          p.model,
			N:              n,
			Size:           ImageSize(p.model, params.Width, params.Height),
			ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		})
		if err != nil {
			return nil, fmt.Errorf("imagegen: OpenAI image generation failed: %w", err)
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("imagegen: OpenAI returned no images")
		}
		for i, d := range resp.Data {
			img, err := decodeB64PNG(d.B64JSON)
			if err != nil {
				return nil, fmt.Errorf("imagegen: image %d: %w", len(images)+i, err)
			}
			images = append(images, img)
		}
	}

	return &Result{
		Images:   images[:batch],
		Seed:     sdruntime.RandomSeedValue,
		Params:   params,
		Provider: p.Name(),
		Duration: time.Since(start),
	}, nil
}

func decodeB64PNG(s string) (sdruntime.Image, error) {
	if s == "" {
		return sdruntime.Image{}, fmt.Errorf("empty b64_json payload")
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return sdruntime.Image{}, fmt.Errorf("invalid base64: %w", err)
	}
	return sdruntime.DecodePNG(data)
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai:" + p.model }

// Model returns the configured model or Azure deployment.
func (p *OpenAIProvider) Model() string { return p.model }

// Close implements Provider.
func (p *OpenAIProvider) Close() error {
	p.closed.Store(true)
	return nil
}

var _ Provider = (*OpenAIProvider)(nil)
