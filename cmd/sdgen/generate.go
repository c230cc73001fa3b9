package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jaypaulb/sdbridge/core"
	"github.com/jaypaulb/sdbridge/db"
	"github.com/jaypaulb/sdbridge/imagegen"
	"github.com/jaypaulb/sdbridge/logging"
	"github.com/jaypaulb/sdbridge/metrics"
	"github.com/jaypaulb/sdbridge/sdruntime"
	"github.com/jaypaulb/sdbridge/shutdown"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// Shutdown priorities; lower runs first.
const (
	priorityGPU      = 10
	priorityProvider = 20
	priorityHistory  = 30
	priorityPartials = 40
)

const (
	providerLocal  = "local"
	providerOpenAI = "openai"
)

type generateOptions struct {
	configPath string

	// context
	model     string
	vae       string
	taesd     string
	loraDir   string
	threads   int
	vaeTiling bool
	freeEarly bool
	poolSize  int

	// generation
	prompt   string
	negative string
	size     int
	width    int
	height   int
	steps    int
	cfgScale float64
	sampler  string
	clipSkip int
	seed     int64
	batch    int
	timeout  time.Duration

	// output
	outDir       string
	contactSheet bool
	sheetCell    int
	historyPath  string
	noHistory    bool

	// provider
	provider      string
	openaiKey     string
	openaiBaseURL string
	openaiModel   string
}

func generateCmd() *cli.Command {
	var o generateOptions

	return &cli.Command{
		Name:      "generate",
		Aliases:   []string{"gen", "txt2img"},
		Usage:     "Generate images from a text prompt",
		ArgsUsage: "[prompt words...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML file with generation defaults", Destination: &o.configPath},

			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "model weights (.safetensors, .ckpt, .gguf); default $SD_MODEL_PATH", Destination: &o.model},
			&cli.StringFlag{Name: "vae", Usage: "separate VAE weights", Destination: &o.vae},
			&cli.StringFlag{Name: "taesd", Usage: "TAESD weights for fast decoding", Destination: &o.taesd},
			&cli.StringFlag{Name: "lora-dir", Usage: "directory with LoRA weights", Destination: &o.loraDir},
			&cli.IntFlag{Name: "threads", Usage: "CPU threads (0 = all cores)", Destination: &o.threads},
			&cli.BoolFlag{Name: "vae-tiling", Usage: "decode the VAE in tiles to save memory", Destination: &o.vaeTiling},
			&cli.BoolFlag{Name: "free-params-immediately", Usage: "free weights once they are on the backend", Destination: &o.freeEarly},
			&cli.IntFlag{Name: "pool-size", Usage: "contexts kept loaded (default $SD_MAX_CONCURRENT)", Destination: &o.poolSize},

			&cli.StringFlag{Name: "prompt", Aliases: []string{"p"}, Usage: "prompt text (or pass it as arguments)", Destination: &o.prompt},
			&cli.StringFlag{Name: "negative-prompt", Aliases: []string{"n"}, Usage: "what to avoid; appended to $SD_NEGATIVE_PROMPT", Destination: &o.negative},
			&cli.IntFlag{Name: "size", Usage: "square image size", Destination: &o.size},
			&cli.IntFlag{Name: "width", Aliases: []string{"W"}, Usage: "image width, multiple of 8", Destination: &o.width},
			&cli.IntFlag{Name: "height", Aliases: []string{"H"}, Usage: "image height, multiple of 8", Destination: &o.height},
			&cli.IntFlag{Name: "steps", Usage: "sampling steps", Destination: &o.steps},
			&cli.FloatFlag{Name: "cfg-scale", Usage: "classifier-free guidance scale", Destination: &o.cfgScale},
			&cli.StringFlag{Name: "sampler", Aliases: []string{"sample-method"}, Usage: "euler_a, euler, heun, dpm2, dpmpp_2s_a, dpmpp_2m, dpmpp_2m_v2, lcm", Destination: &o.sampler},
			&cli.IntFlag{Name: "clip-skip", Usage: "CLIP layers to skip (-1 = model default)", Destination: &o.clipSkip},
			&cli.Int64Flag{Name: "seed", Aliases: []string{"s"}, Usage: "base seed (-1 = random)", Value: sdruntime.RandomSeedValue, Destination: &o.seed},
			&cli.IntFlag{Name: "batch", Aliases: []string{"b"}, Usage: "images to generate", Destination: &o.batch},
			&cli.DurationFlag{Name: "timeout", Usage: "give up after this long (default $SD_TIMEOUT_SECONDS)", Destination: &o.timeout},

			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output directory", Destination: &o.outDir},
			&cli.BoolFlag{Name: "contact-sheet", Usage: "also write a grid of the whole batch", Destination: &o.contactSheet},
			&cli.IntFlag{Name: "sheet-cell", Usage: "contact sheet cell size in pixels", Value: 256, Destination: &o.sheetCell},
			&cli.StringFlag{Name: "history", Usage: "history database path", Destination: &o.historyPath},
			&cli.BoolFlag{Name: "no-history", Usage: "do not record the run", Destination: &o.noHistory},

			&cli.StringFlag{Name: "provider", Usage: "local or openai", Value: providerLocal, Destination: &o.provider},
			&cli.StringFlag{Name: "openai-api-key", Sources: cli.EnvVars("OPENAI_API_KEY"), Usage: "API key for --provider openai", Destination: &o.openaiKey},
			&cli.StringFlag{Name: "openai-base-url", Sources: cli.EnvVars("OPENAI_BASE_URL"), Usage: "OpenAI-compatible endpoint (Azure supported)", Destination: &o.openaiBaseURL},
			&cli.StringFlag{Name: "openai-model", Sources: cli.EnvVars("OPENAI_IMAGE_MODEL"), Usage: "dall-e-2 or dall-e-3", Destination: &o.openaiModel},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if o.prompt == "" {
				o.prompt = strings.Join(cmd.Args().Slice(), " ")
			}
			return classify(runGenerate(ctx, cmd, o))
		},
	}
}

// flagSet is the part of *cli.Command resolveConfig needs.
type flagSet interface {
	IsSet(name string) bool
}

// resolveConfig layers env, the optional YAML file and explicit flags,
// in that order, into a config and the request parameters.
func resolveConfig(set flagSet, o generateOptions) (*sdruntime.SDConfig, sdruntime.GenerateParams, error) {
	cfg := sdruntime.LoadSDConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = sdruntime.LoadSDConfigFile(o.configPath); err != nil {
			return nil, sdruntime.GenerateParams{}, usageError(err)
		}
	}

	if set.IsSet("model") {
		cfg.ModelPath = o.model
	}
	if set.IsSet("vae") {
		cfg.VAEPath = o.vae
	}
	if set.IsSet("taesd") {
		cfg.TAESDPath = o.taesd
	}
	if set.IsSet("lora-dir") {
		cfg.LoraModelDir = o.loraDir
	}
	if set.IsSet("threads") {
		cfg.Threads = o.threads
	}
	if set.IsSet("vae-tiling") {
		cfg.VAETiling = o.vaeTiling
	}
	if set.IsSet("free-params-immediately") {
		cfg.FreeParamsImmediately = o.freeEarly
	}
	if set.IsSet("pool-size") {
		cfg.MaxConcurrent = o.poolSize
	}
	if set.IsSet("timeout") {
		cfg.Timeout = o.timeout
	}
	if set.IsSet("size") {
		cfg.ImageSize = o.size
	}
	if set.IsSet("steps") {
		cfg.InferenceSteps = o.steps
	}
	if set.IsSet("cfg-scale") {
		cfg.GuidanceScale = o.cfgScale
	}
	if set.IsSet("clip-skip") {
		cfg.ClipSkip = o.clipSkip
	}
	if set.IsSet("batch") {
		cfg.BatchCount = o.batch
	}
	if set.IsSet("sampler") {
		method, err := sdruntime.ParseSampleMethod(o.sampler)
		if err != nil {
			return nil, sdruntime.GenerateParams{}, usageError(err)
		}
		cfg.SampleMethod = method
	}

	params := cfg.GenerateParams(sdruntime.SanitizePrompt(o.prompt))
	params.NegativePrompt = sdruntime.JoinPrompts(cfg.NegativePrompt, o.negative)
	if set.IsSet("width") {
		params.Width = o.width
	}
	if set.IsSet("height") {
		params.Height = o.height
	}
	params.Seed = o.seed
	return cfg, params, nil
}

// runContext holds everything a single generate invocation wires together.
type runContext struct {
	log      *zap.Logger
	cfg      *sdruntime.SDConfig
	provider imagegen.Provider
	store    *metrics.GenerationStore
	repo     *db.Repository
	outDir   string
}

func runGenerate(ctx context.Context, set flagSet, o generateOptions) error {
	cfg, params, err := resolveConfig(set, o)
	if err != nil {
		return err
	}
	if o.provider == providerLocal {
		if err := sdruntime.ValidateParams(params); err != nil {
			return err
		}
	} else if err := sdruntime.ValidatePrompt(params.Prompt); err != nil {
		return err
	}

	log := logger.Zap().Named("generate")
	mgr := shutdown.NewManager(ctx, log)
	mgr.Start()
	defer func() {
		if err := mgr.Shutdown(); err != nil {
			log.Warn("Shutdown finished with errors", zap.Error(err))
		}
	}()

	rc := &runContext{
		log:    log,
		cfg:    cfg,
		store:  metrics.NewGenerationStore(metrics.DefaultStoreConfig(), time.Now()),
		outDir: o.outDir,
	}
	if rc.outDir == "" {
		rc.outDir = defaultOutputDir()
	}

	switch o.provider {
	case providerLocal:
		gen, err := sdruntime.NewGenerator(cfg.MaxConcurrent, cfg.ContextParams(),
			sdruntime.WithLogger(log),
			sdruntime.WithObserver(rc.store),
		)
		if err != nil {
			return err
		}
		if rc.provider, err = imagegen.NewLocalProvider(gen); err != nil {
			return err
		}
		if report := sdruntime.Backend(); report.CUDAAvailable {
			log.Debug("Backend", logging.BackendFields(report)...)
			reader, closeReader := metrics.NewDefaultGPUReader()
			gpuCfg := metrics.DefaultGPUCollectorConfig()
			gpuCfg.Logger = log
			collector := metrics.NewGPUCollector(gpuCfg, reader, rc.store.UpdateGPUMetrics)
			collector.Start(mgr.Context())
			mgr.Register("gpu-metrics", priorityGPU, func(context.Context) error {
				collector.Stop()
				return closeReader()
			})
		}
	case providerOpenAI:
		p, err := imagegen.NewOpenAIProvider(imagegen.OpenAIProviderConfig{
			APIKey:  o.openaiKey,
			BaseURL: o.openaiBaseURL,
			Model:   o.openaiModel,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return usageError(err)
		}
		rc.provider = p
	default:
		return usageError(fmt.Errorf("unknown provider %q (want %s or %s)", o.provider, providerLocal, providerOpenAI))
	}
	mgr.Register("provider", priorityProvider, func(context.Context) error {
		return rc.provider.Close()
	})

	if !o.noHistory {
		path := o.historyPath
		if path == "" {
			path = defaultHistoryPath()
		}
		database, err := db.Open(path)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		mgr.Register("history", priorityHistory, func(context.Context) error {
			return database.Close()
		})
		rc.repo = db.NewRepository(database)
	}

	mgr.Register("partial-files", priorityPartials,
		shutdown.CleanupPartialFiles(log, rc.outDir, imagegen.PartialPattern))

	runErr := rc.generate(mgr, params, o)
	if code := mgr.ExitCode(); runErr != nil && core.IsSignalExit(code) {
		return withExitCode(code, runErr)
	}
	return runErr
}

func (rc *runContext) generate(mgr *shutdown.Manager, params sdruntime.GenerateParams, o generateOptions) error {
	runID := uuid.NewString()
	log := rc.log.With(zap.String("run_id", runID), zap.String("provider", rc.provider.Name()))

	genCtx := mgr.Context()
	if rc.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(genCtx, rc.cfg.Timeout)
		defer cancel()
	}

	started := time.Now()
	var res *imagegen.Result
	err := mgr.WrapOperation(genCtx, "txt2img", func(ctx context.Context) error {
		var err error
		res, err = rc.provider.Generate(ctx, params)
		return err
	})

	if _, remote := rc.provider.(*imagegen.OpenAIProvider); remote {
		// Local generations reach the store through the Generator observer.
		stats := sdruntime.GenerationStats{
			ModelPath:   rc.provider.Name(),
			Params:      params,
			Duration:    time.Since(started),
			Err:         err,
			CompletedAt: time.Now(),
		}
		if res != nil {
			stats.Images = len(res.Images)
		}
		rc.store.ObserveGeneration(stats)
	}

	var saved []imagegen.SavedImage
	if err == nil {
		saved, err = imagegen.SaveImages(rc.outDir, runID, res.Images)
	}
	rc.record(runID, params, res, saved, time.Since(started), err)

	if err != nil {
		log.Error("Generation failed", zap.Error(err))
		return err
	}

	if o.contactSheet && len(res.Images) > 1 {
		if sheetPath, err := writeContactSheet(rc.outDir, runID, res.Images, o.sheetCell); err != nil {
			log.Warn("Contact sheet failed", zap.Error(err))
		} else {
			fmt.Printf("%s %s\n", color.HiBlackString("sheet"), sheetPath)
		}
	}

	for _, s := range saved {
		fmt.Printf("%s %s %s\n",
			color.GreenString("✓"), s.Path,
			color.HiBlackString("seed=%d", res.ImageSeed(s.Index)))
	}
	m := rc.store.GetGenerationMetrics()
	log.Info("Generation complete",
		zap.Int("images", len(saved)),
		zap.Int64("seed", res.Seed),
		zap.Duration("duration", res.Duration),
		zap.Int64("peak_vram_bytes", rc.store.PeakGPUMemory()),
		zap.Float64("success_rate", m.SuccessRate()),
	)
	return nil
}

// record stores the run in history. Failures to record are logged only.
func (rc *runContext) record(runID string, params sdruntime.GenerateParams, res *imagegen.Result,
	saved []imagegen.SavedImage, elapsed time.Duration, genErr error) {
	if rc.repo == nil {
		return
	}

	run := db.GenerationRun{
		ID:             runID,
		ModelPath:      rc.cfg.ModelPath,
		Prompt:         params.Prompt,
		NegativePrompt: params.NegativePrompt,
		SampleMethod:   params.SampleMethod.String(),
		Steps:          params.Steps,
		CFGScale:       params.CFGScale,
		Width:          params.Width,
		Height:         params.Height,
		ClipSkip:       params.ClipSkip,
		BatchCount:     max(params.BatchCount, 1),
		Seed:           params.Seed,
		DurationMS:     elapsed.Milliseconds(),
		Status:         db.RunStatusSuccess,
		CreatedAt:      time.Now(),
	}
	if _, remote := rc.provider.(*imagegen.OpenAIProvider); remote {
		run.ModelPath = rc.provider.Name()
	}
	if res != nil {
		run.Seed = res.Seed
	}
	switch {
	case genErr == nil:
	case errors.Is(genErr, sdruntime.ErrGenerationCanceled), errors.Is(genErr, context.Canceled):
		run.Status = db.RunStatusCanceled
		run.ErrorMessage = genErr.Error()
	default:
		run.Status = db.RunStatusError
		run.ErrorMessage = genErr.Error()
	}

	images := make([]db.GeneratedImage, 0, len(saved))
	for _, s := range saved {
		seed := run.Seed
		if res != nil {
			seed = res.ImageSeed(s.Index)
		}
		images = append(images, db.GeneratedImage{
			RunID:  runID,
			Index:  s.Index,
			Seed:   seed,
			Path:   s.Path,
			Width:  s.Width,
			Height: s.Height,
			SHA256: s.SHA256,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rc.repo.RecordRun(ctx, run, images); err != nil {
		rc.log.Warn("Failed to record run in history", zap.String("run_id", runID), zap.Error(err))
	}
}

// sheetColumns picks a near-square grid.
func sheetColumns(n int) int {
	cols := 1
	for cols*cols < n {
		cols++
	}
	return cols
}

func writeContactSheet(dir, runID string, images []sdruntime.Image, cell int) (string, error) {
	sheet, err := imagegen.ContactSheet(images, sheetColumns(len(images)), cell)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, runID+"-sheet.png")
	if _, err := imagegen.WriteImage(path, sheet); err != nil {
		return "", err
	}
	return path, nil
}
