package preflight

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jaypaulb/sdbridge/core"
	"github.com/jaypaulb/sdbridge/sdruntime"
)

// Check names used by NewDoctorSuite. AddDependent refers to them.
const (
	CheckNameModel     = "Model File"
	CheckNameChecksum  = "Model Checksum"
	CheckNameVAE       = "VAE Weights"
	CheckNameTAESD     = "TAESD Weights"
	CheckNameLora      = "LoRA Directory"
	CheckNameOutputDir = "Output Directory"
	CheckNameDiskSpace = "Disk Space"
	CheckNameBackend   = "Compute Backend"
)

// CheckModel inspects the weights file at path.
func CheckModel(path string) CheckResult {
	if path == "" {
		return Fail(fmt.Errorf("%w: no model path configured (set SD_MODEL_PATH or --model)", sdruntime.ErrModelNotFound))
	}
	info, err := sdruntime.InspectModel(path)
	if err != nil {
		return Fail(err)
	}

	msg := fmt.Sprintf("%s, %s", info.Format, core.FormatBytes(info.SizeBytes))
	if info.Format == sdruntime.FormatCheckpoint {
		return Warn("%s, pickle checkpoint not inspected", msg)
	}
	if info.Type == sdruntime.ModelTypeUnknown {
		return Warn("%s, %s tensors, model family not recognized", msg, core.FormatCount(int64(info.TensorCount)))
	}
	return Pass("%s, %s tensors, %s", msg, core.FormatCount(int64(info.TensorCount)), info.Type)
}

// CheckChecksum compares the model against the known checksum registry.
// Unregistered models produce a warning.
func CheckChecksum(path string) CheckResult {
	ok, err := sdruntime.VerifyModelChecksum(path)
	if err != nil {
		return Fail(err)
	}
	if !ok {
		return Warn("no registered checksum for %s", filepath.Base(path))
	}
	return Pass("sha256 matches")
}

// CheckOptionalFile passes when path is empty or names a regular file.
func CheckOptionalFile(path string) CheckResult {
	if path == "" {
		return Skip("not configured")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Fail(err)
	}
	if info.IsDir() {
		return Fail(fmt.Errorf("%s is a directory", path))
	}
	return Pass("%s", core.FormatBytes(info.Size()))
}

// CheckOptionalDir passes when path is empty or names a directory.
func CheckOptionalDir(path string) CheckResult {
	if path == "" {
		return Skip("not configured")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Fail(err)
	}
	if !info.IsDir() {
		return Fail(fmt.Errorf("%s is not a directory", path))
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return Fail(err)
	}
	return Pass("%d entries", len(entries))
}

// CheckOutputDir creates dir if needed and proves it is writable.
func CheckOutputDir(dir string) CheckResult {
	if dir == "" {
		return Fail(errors.New("output directory is empty"))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Fail(fmt.Errorf("cannot create %s: %w", dir, err))
	}
	f, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		return Fail(fmt.Errorf("%s is not writable: %w", dir, err))
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return Pass("%s", dir)
}

// CheckFreeSpace fails when dir has less than required bytes free and
// warns when usage is above 95%.
func CheckFreeSpace(dir string, required int64) CheckResult {
	info, err := GetDiskSpace(dir)
	if err != nil {
		return Fail(err)
	}
	if info.Free < required {
		return Fail(&DiskSpaceError{Path: dir, Required: required, Available: info.Free})
	}
	if info.UsedPercent > 95 {
		return Warn("%s free (%.0f%% used)", core.FormatBytes(info.Free), info.UsedPercent)
	}
	return Pass("%s free", core.FormatBytes(info.Free))
}

// CheckBackend reports the linked stable-diffusion.cpp backend. A build
// without the native library warns, since it only produces test images.
func CheckBackend(report sdruntime.BackendReport, stub, requireCUDA bool) CheckResult {
	if requireCUDA {
		if err := report.RequireCUDA(); err != nil {
			return Fail(err)
		}
	}
	if stub {
		return Warn("%s (built without -tags sd, images are synthetic)", report.Info)
	}
	if report.CUDAAvailable {
		return Pass("%s, %s", report.Info, report.Version)
	}
	return Warn("%s, %s (no CUDA, generation will be slow)", report.Info, report.Version)
}

// DoctorConfig names what NewDoctorSuite checks.
type DoctorConfig struct {
	SD            *sdruntime.SDConfig
	OutputDir     string
	RequiredBytes int64
	// SkipChecksum avoids hashing multi-gigabyte weights.
	SkipChecksum bool
	// RequireCUDA turns a CPU-only backend into a failure.
	RequireCUDA bool
}

// NewDoctorSuite assembles the standard checks for cfg.
func NewDoctorSuite(cfg DoctorConfig) *Suite {
	sd := cfg.SD
	if sd == nil {
		sd = sdruntime.LoadSDConfig()
	}
	required := cfg.RequiredBytes
	if required <= 0 {
		required = EstimateOutputBytes(sd.ImageSize, sd.ImageSize, max(sd.BatchCount, 1))
	}

	s := NewSuite("sdgen Preflight")
	s.Add(CheckNameModel, func() CheckResult { return CheckModel(sd.ModelPath) })
	if cfg.SkipChecksum {
		s.Add(CheckNameChecksum, func() CheckResult { return Skip("disabled") })
	} else {
		s.AddDependent(CheckNameChecksum, CheckNameModel, func() CheckResult { return CheckChecksum(sd.ModelPath) })
	}
	s.Add(CheckNameVAE, func() CheckResult { return CheckOptionalFile(sd.VAEPath) })
	s.Add(CheckNameTAESD, func() CheckResult { return CheckOptionalFile(sd.TAESDPath) })
	s.Add(CheckNameLora, func() CheckResult { return CheckOptionalDir(sd.LoraModelDir) })
	s.Add(CheckNameOutputDir, func() CheckResult { return CheckOutputDir(cfg.OutputDir) })
	s.AddDependent(CheckNameDiskSpace, CheckNameOutputDir, func() CheckResult { return CheckFreeSpace(cfg.OutputDir, required) })
	s.Add(CheckNameBackend, func() CheckResult { return CheckBackend(sdruntime.Backend(), sdruntime.IsStub(), cfg.RequireCUDA) })
	return s
}
