package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jaypaulb/sdbridge/core"
	"github.com/jaypaulb/sdbridge/db"
	"github.com/jaypaulb/sdbridge/sdruntime"
)

type fakeFlags map[string]bool

func (f fakeFlags) IsSet(name string) bool { return f[name] }

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, core.ExitCodeSuccess},
		{"plain", errors.New("x"), core.ExitCodeError},
		{"missing model", fmt.Errorf("load: %w", sdruntime.ErrModelNotFound), core.ExitCodeModel},
		{"corrupt model", sdruntime.ErrModelCorrupted, core.ExitCodeModel},
		{"bad params", sdruntime.ErrInvalidParams, core.ExitCodeUsage},
		{"bad prompt", sdruntime.ErrInvalidPrompt, core.ExitCodeUsage},
		{"canceled", sdruntime.ErrGenerationCanceled, core.ExitCodeSIGINT},
		{"explicit", withExitCode(core.ExitCodeSIGTERM, sdruntime.ErrGenerationCanceled), core.ExitCodeSIGTERM},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(classify(tt.err)); got != tt.want {
				t.Errorf("exitCode = %d (%s), want %d", got, core.ExitCodeName(got), tt.want)
			}
		})
	}

	wrapped := classify(sdruntime.ErrModelNotFound)
	if !errors.Is(wrapped, sdruntime.ErrModelNotFound) {
		t.Error("classify must keep the sentinel reachable")
	}
}

func TestResolveConfig(t *testing.T) {
	t.Setenv("SD_MODEL_PATH", "/env/model.safetensors")
	t.Setenv("SD_IMAGE_SIZE", "768")
	t.Setenv("SD_INFERENCE_STEPS", "30")
	t.Setenv("SD_NEGATIVE_PROMPT", "blurry")

	cfg, params, err := resolveConfig(fakeFlags{}, generateOptions{prompt: "  a  cat ", seed: -1})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ModelPath != "/env/model.safetensors" || params.Width != 768 || params.Steps != 30 {
		t.Errorf("env defaults not applied: model=%s width=%d steps=%d", cfg.ModelPath, params.Width, params.Steps)
	}
	if params.Prompt != "a cat" || params.NegativePrompt != "blurry" {
		t.Errorf("prompt=%q negative=%q", params.Prompt, params.NegativePrompt)
	}

	set := fakeFlags{"model": true, "steps": true, "width": true, "sampler": true, "batch": true}
	o := generateOptions{
		prompt:   "a dog",
		negative: "watermark",
		model:    "/flag/model.gguf",
		steps:    8,
		width:    640,
		sampler:  "dpmpp-2m",
		batch:    4,
		seed:     7,
	}
	cfg, params, err = resolveConfig(set, o)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ModelPath != "/flag/model.gguf" {
		t.Errorf("model = %s", cfg.ModelPath)
	}
	if params.Steps != 8 || params.Width != 640 || params.Height != 768 || params.BatchCount != 4 || params.Seed != 7 {
		t.Errorf("flags not applied: %+v", params)
	}
	if params.SampleMethod != sdruntime.SampleDPMPP2M {
		t.Errorf("sampler = %s", params.SampleMethod)
	}
	if params.NegativePrompt != "blurry, watermark" {
		t.Errorf("negative = %q", params.NegativePrompt)
	}

	if _, _, err := resolveConfig(fakeFlags{"sampler": true}, generateOptions{sampler: "nope"}); exitCode(err) != core.ExitCodeUsage {
		t.Errorf("unknown sampler: %v", err)
	}
}

func TestResolveConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sdgen.yaml")
	os.WriteFile(path, []byte("model_path: /yaml/model.safetensors\nimage_size: 1024\nsample_method: lcm\n"), 0644)

	cfg, params, err := resolveConfig(fakeFlags{"size": true}, generateOptions{configPath: path, size: 256, prompt: "x", seed: -1})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ModelPath != "/yaml/model.safetensors" || params.SampleMethod != sdruntime.SampleLCM {
		t.Errorf("yaml not applied: %s %s", cfg.ModelPath, params.SampleMethod)
	}
	if params.Width != 256 || params.Height != 256 {
		t.Errorf("--size should override the file: %dx%d", params.Width, params.Height)
	}

	os.WriteFile(path, []byte("image_size: 100\n"), 0644)
	if _, _, err := resolveConfig(fakeFlags{}, generateOptions{configPath: path}); exitCode(err) != core.ExitCodeUsage {
		t.Errorf("invalid file: %v", err)
	}
}

func TestHelpers(t *testing.T) {
	for n, want := range map[int]int{1: 1, 2: 2, 4: 2, 5: 3, 9: 3, 10: 4} {
		if got := sheetColumns(n); got != want {
			t.Errorf("sheetColumns(%d) = %d, want %d", n, got, want)
		}
	}
	if got := truncate("héllo world", 8); got != "héllo..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if shortID("0123456789abcdef") != "01234567" || shortID("abc") != "abc" {
		t.Error("shortID")
	}

	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	os.WriteFile(a, []byte("x"), 0644)
	removed, err := removeFiles([]string{a, filepath.Join(dir, "gone.png")})
	if err != nil || removed != 1 {
		t.Errorf("removeFiles = %d, %v", removed, err)
	}
}

func TestWriteRunTable(t *testing.T) {
	now := time.Now()
	runs := []db.GenerationRun{{
		ID:           "3f2a9c1e-0000-4000-8000-000000000000",
		Prompt:       "a lighthouse at dusk",
		SampleMethod: "euler_a",
		Steps:        20,
		Width:        512,
		Height:       512,
		Seed:         42,
		DurationMS:   2500,
		Status:       db.RunStatusSuccess,
		CreatedAt:    now.Add(-2 * time.Hour),
	}}

	var buf bytes.Buffer
	writeRunTable(&buf, runs, now)
	out := buf.String()
	for _, want := range []string{"3f2a9c1e", "2 hours ago", "512x512", "a lighthouse at dusk", "2.5s"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func writeTestModel(t *testing.T, dir string) string {
	t.Helper()
	header := []byte(`{"cond_stage_model.transformer.text_model.embeddings.token_embedding.weight":{"dtype":"F16","shape":[1],"data_offsets":[0,2]}}`)
	buf := binary.LittleEndian.AppendUint64(nil, uint64(len(header)))
	buf = append(buf, header...)
	buf = append(buf, 0, 0)
	path := filepath.Join(dir, "model.safetensors")
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_GenerateAndHistory(t *testing.T) {
	if !sdruntime.IsStub() {
		t.Skip("requires the stub engine")
	}
	dir := t.TempDir()
	model := writeTestModel(t, dir)
	out := filepath.Join(dir, "out")
	hist := filepath.Join(dir, "history.db")

	code := run(context.Background(), []string{
		"sdgen", "--env-file", "", "--data-dir", dir, "--log-level", "error",
		"generate", "--model", model, "--out", out, "--history", hist,
		"--width", "128", "--height", "128", "--steps", "2", "--batch", "2",
		"--seed", "1234", "--contact-sheet", "--sheet-cell", "64",
		"a", "tiny", "test", "image",
	})
	if code != core.ExitCodeSuccess {
		t.Fatalf("generate exit code = %d", code)
	}

	pngs, _ := filepath.Glob(filepath.Join(out, "*.png"))
	if len(pngs) != 3 {
		t.Errorf("expected 2 images and a sheet, got %v", pngs)
	}

	database, err := db.Open(hist)
	if err != nil {
		t.Fatal(err)
	}
	repo := db.NewRepository(database)
	runs, err := repo.QueryRecentRuns(context.Background(), 5)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %v, %v", runs, err)
	}
	r := runs[0]
	if r.Prompt != "a tiny test image" || r.Seed != 1234 || r.Status != db.RunStatusSuccess || r.BatchCount != 2 {
		t.Errorf("unexpected run: %+v", r)
	}
	images, err := repo.ImagesForRun(context.Background(), r.ID)
	if err != nil || len(images) != 2 || images[1].Seed != 1235 {
		t.Errorf("images = %+v, %v", images, err)
	}
	database.Close()

	if code := run(context.Background(), []string{"sdgen", "--env-file", "", "history", "--db", hist, "list"}); code != 0 {
		t.Errorf("history list exit code = %d", code)
	}
	if code := run(context.Background(), []string{"sdgen", "--env-file", "", "history", "--db", hist, "show", r.ID[:6]}); code != 0 {
		t.Errorf("history show exit code = %d", code)
	}
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	base := []string{"sdgen", "--env-file", "", "--data-dir", dir, "--log-level", "error"}

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"missing model", []string{"generate", "--no-history", "--model", filepath.Join(dir, "none.safetensors"), "--width", "128", "--height", "128", "cat"}, core.ExitCodeModel},
		{"empty prompt", []string{"generate", "--no-history", "--model", "x"}, core.ExitCodeUsage},
		{"bad size", []string{"generate", "--no-history", "--width", "100", "cat"}, core.ExitCodeUsage},
		{"bad provider", []string{"generate", "--no-history", "--provider", "nope", "cat"}, core.ExitCodeUsage},
		{"inspect missing", []string{"inspect", filepath.Join(dir, "none.gguf")}, core.ExitCodeModel},
		{"verify nothing", []string{"verify"}, core.ExitCodeUsage},
		{"no history", []string{"history", "--db", filepath.Join(dir, "none.db"), "list"}, core.ExitCodeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append(append([]string{}, base...), tt.args...)
			if got := run(context.Background(), args); got != tt.want {
				t.Errorf("exit code = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRun_RequireCUDA(t *testing.T) {
	if sdruntime.CUDAAvailable() {
		t.Skip("CUDA is available")
	}
	dir := t.TempDir()
	base := []string{"sdgen", "--env-file", "", "--data-dir", dir, "--log-level", "error"}

	if code := run(context.Background(), append(base, "backend", "--nvidia-smi", filepath.Join(dir, "none"))); code != core.ExitCodeSuccess {
		t.Errorf("backend exit code = %d, want %d", code, core.ExitCodeSuccess)
	}
	if code := run(context.Background(), append(base, "backend", "--require-cuda", "--nvidia-smi", filepath.Join(dir, "none"))); code != core.ExitCodeError {
		t.Errorf("backend --require-cuda exit code = %d, want %d", code, core.ExitCodeError)
	}
}
