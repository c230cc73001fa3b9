package sdruntime

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	checksumMu sync.RWMutex

	// modelChecksums maps model file names to their expected SHA-256.
	modelChecksums = map[string]string{
		// https://huggingface.co/runwayml/stable-diffusion-v1-5
		"v1-5-pruned-emaonly.safetensors": "6ce0161689b3853acaa03779ec93eafe75a02f4ced659bee03f50797806fa2fa",
	}
)

// VerifyModelChecksum checks the file at modelPath against the registry.
// Files without a registered checksum pass (ok is false).
//
// Error cases:
//   - ErrModelNotFound: the file does not exist
//   - ErrModelCorrupted: the checksum does not match
func VerifyModelChecksum(modelPath string) (ok bool, err error) {
	if _, err := os.Stat(modelPath); err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Errorf("%w: %s", ErrModelNotFound, modelPath)
		}
		return false, fmt.Errorf("failed to access model file: %w", err)
	}

	expected, registered := GetExpectedChecksum(filepath.Base(modelPath))
	if !registered {
		return false, nil
	}

	actual, err := CalculateChecksum(modelPath)
	if err != nil {
		return false, fmt.Errorf("failed to calculate checksum: %w", err)
	}

	if actual != expected {
		return false, fmt.Errorf("%w: expected %s, got %s", ErrModelCorrupted, expected, actual)
	}
	return true, nil
}

// CalculateChecksum streams the file through SHA-256 and returns the
// lowercase hex digest.
func CalculateChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrModelNotFound, filePath)
		}
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// GetExpectedChecksum returns the registered checksum for a model file name
// (base name only, e.g. "v1-5-pruned-emaonly.safetensors").
func GetExpectedChecksum(modelName string) (string, bool) {
	checksumMu.RLock()
	defer checksumMu.RUnlock()
	checksum, ok := modelChecksums[modelName]
	return checksum, ok
}

// RegisterModelChecksum adds or replaces the checksum for a model file name.
func RegisterModelChecksum(modelName, checksum string) error {
	checksum = strings.ToLower(strings.TrimSpace(checksum))
	if len(checksum) != sha256.Size*2 {
		return fmt.Errorf("checksum for %s must be %d hex characters", modelName, sha256.Size*2)
	}
	if _, err := hex.DecodeString(checksum); err != nil {
		return fmt.Errorf("checksum for %s is not hex: %w", modelName, err)
	}

	checksumMu.Lock()
	defer checksumMu.Unlock()
	modelChecksums[modelName] = checksum
	return nil
}

// IsModelCorrupted checks if an error indicates model corruption.
func IsModelCorrupted(err error) bool {
	return errors.Is(err, ErrModelCorrupted)
}

// IsModelNotFound checks if an error indicates a missing model file.
func IsModelNotFound(err error) bool {
	return errors.Is(err, ErrModelNotFound)
}
