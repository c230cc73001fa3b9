package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jaypaulb/sdbridge/sdruntime"

	"github.com/sashabaranov/go-openai"
)

func solidImage(w, h int, c color.RGBA) sdruntime.Image {
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(rgba.Pix); i += 4 {
		rgba.Pix[i], rgba.Pix[i+1], rgba.Pix[i+2], rgba.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return sdruntime.FromRGBA(rgba)
}

func writeModel(t *testing.T) string {
	t.Helper()
	header := []byte(`{"cond_stage_model.transformer.text_model.embeddings.position_ids":{"dtype":"I64","shape":[1,77],"data_offsets":[0,616]}}`)
	buf := binary.LittleEndian.AppendUint64(nil, uint64(len(header)))
	buf = append(buf, header...)
	buf = append(buf, make([]byte, 616)...)

	path := filepath.Join(t.TempDir(), "tiny.safetensors")
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLocalProvider(t *testing.T) {
	if !sdruntime.IsStub() {
		t.Skip("requires the stub engine")
	}
	if _, err := NewLocalProvider(nil); err == nil {
		t.Error("expected error for nil generator")
	}

	gen, err := sdruntime.NewGenerator(1, sdruntime.DefaultContextParams(writeModel(t)))
	if err != nil {
		t.Fatalf("NewGenerator() failed: %v", err)
	}
	provider, err := NewLocalProvider(gen)
	if err != nil {
		t.Fatal(err)
	}

	params := sdruntime.DefaultParams()
	params.Prompt = "a red bicycle"
	params.Width, params.Height = 128, 128
	params.Steps = 2
	params.Seed = 99
	params.BatchCount = 3

	res, err := provider.Generate(context.Background(), params)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if len(res.Images) != 3 || res.Seed != 99 || res.Provider != "local" {
		t.Errorf("unexpected result: %d images, seed %d, provider %s", len(res.Images), res.Seed, res.Provider)
	}

	if err := provider.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := provider.Generate(context.Background(), params); !errors.Is(err, ErrProviderClosed) {
		t.Errorf("Generate() after Close = %v", err)
	}
}

func fakeImagesServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	pngData, err := solidImage(16, 16, color.RGBA{R: 200, A: 255}).PNG()
	if err != nil {
		t.Fatal(err)
	}
	b64 := base64.StdEncoding.EncodeToString(pngData)

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.HasSuffix(r.URL.Path, "/images/generations") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req openai.ImageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.ResponseFormat != openai.CreateImageResponseFormatB64JSON {
			t.Errorf("response_format = %q", req.ResponseFormat)
		}

		n := req.N
		if n == 0 {
			n = 1
		}
		resp := openai.ImageResponse{Created: 1}
		for i := 0; i < n; i++ {
			resp.Data = append(resp.Data, openai.ImageResponseDataInner{B64JSON: b64})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestOpenAIProvider_Generate(t *testing.T) {
	var calls atomic.Int32
	server := fakeImagesServer(t, &calls)
	defer server.Close()

	tests := []struct {
		model     string
		batch     int
		wantCalls int32
	}{
		{openai.CreateImageModelDallE3, 2, 2},
		{openai.CreateImageModelDallE2, 3, 1},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			calls.Store(0)
			provider, err := NewOpenAIProvider(OpenAIProviderConfig{
				APIKey:  "test-key",
				BaseURL: server.URL + "/v1",
				Model:   tt.model,
			})
			if err != nil {
				t.Fatal(err)
			}

			params := sdruntime.DefaultParams()
			params.Prompt = "a watercolor fox"
			params.BatchCount = tt.batch

			res, err := provider.Generate(context.Background(), params)
			if err != nil {
				t.Fatalf("Generate() failed: %v", err)
			}
			if len(res.Images) != tt.batch {
				t.Errorf("got %d images, want %d", len(res.Images), tt.batch)
			}
			if res.Images[0].Width != 16 || res.Images[0].Channels != sdruntime.ImageChannels {
				t.Errorf("unexpected image: %dx%d/%d", res.Images[0].Width, res.Images[0].Height, res.Images[0].Channels)
			}
			if res.Seed != sdruntime.RandomSeedValue {
				t.Errorf("remote seed = %d, want -1", res.Seed)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("API calls = %d, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestOpenAIProvider_Errors(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIProviderConfig{}); err == nil {
		t.Error("expected error for missing API key")
	}

	var calls atomic.Int32
	server := fakeImagesServer(t, &calls)
	defer server.Close()

	provider, err := NewOpenAIProvider(OpenAIProviderConfig{APIKey: "wrong", BaseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatal(err)
	}

	params := sdruntime.DefaultParams()
	params.Prompt = "x"
	if _, err := provider.Generate(context.Background(), params); err == nil {
		t.Error("expected error for rejected API key")
	}

	params.Prompt = ""
	if _, err := provider.Generate(context.Background(), params); !errors.Is(err, sdruntime.ErrInvalidPrompt) {
		t.Errorf("empty prompt error = %v", err)
	}

	provider.Close()
	params.Prompt = "x"
	if _, err := provider.Generate(context.Background(), params); !errors.Is(err, ErrProviderClosed) {
		t.Errorf("Generate() after Close = %v", err)
	}
}

func TestImageSizeAndEndpoints(t *testing.T) {
	tests := []struct {
		model string
		w, h  int
		want  string
	}{
		{openai.CreateImageModelDallE2, 128, 128, openai.CreateImageSize256x256},
		{openai.CreateImageModelDallE2, 512, 384, openai.CreateImageSize512x512},
		{openai.CreateImageModelDallE2, 768, 768, openai.CreateImageSize1024x1024},
		{openai.CreateImageModelDallE3, 512, 512, openai.CreateImageSize1024x1024},
		{openai.CreateImageModelDallE3, 1024, 576, openai.CreateImageSize1792x1024},
		{openai.CreateImageModelDallE3, 576, 1024, openai.CreateImageSize1024x1792},
	}
	for _, tt := range tests {
		if got := ImageSize(tt.model, tt.w, tt.h); got != tt.want {
			t.Errorf("ImageSize(%s, %d, %d) = %s, want %s", tt.model, tt.w, tt.h, got, tt.want)
		}
	}

	if !IsAzureEndpoint("https://res.openai.azure.com/") || IsAzureEndpoint("https://api.openai.com/v1") {
		t.Error("IsAzureEndpoint misclassified endpoints")
	}
}

func TestDecodeB64PNG(t *testing.T) {
	if _, err := decodeB64PNG(""); err == nil {
		t.Error("expected error for empty payload")
	}
	if _, err := decodeB64PNG("not base64!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := decodeB64PNG(base64.StdEncoding.EncodeToString([]byte("plain text, not png"))); err == nil {
		t.Error("expected error for non-PNG data")
	}
}

func TestResultImageSeed(t *testing.T) {
	tests := []struct {
		seed  int64
		index int
		want  int64
	}{
		{42, 0, 42},
		{42, 3, 45},
		{sdruntime.RandomSeedValue, 0, sdruntime.RandomSeedValue},
		{sdruntime.RandomSeedValue, 2, sdruntime.RandomSeedValue},
	}
	for _, tt := range tests {
		r := &Result{Seed: tt.seed}
		if got := r.ImageSeed(tt.index); got != tt.want {
			t.Errorf("Result{Seed: %d}.ImageSeed(%d) = %d, want %d", tt.seed, tt.index, got, tt.want)
		}
	}
}
