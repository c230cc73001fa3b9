package sdruntime

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeModelBytes(t *testing.T, name string, data []byte) (path, checksum string) {
	t.Helper()
	path = filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(data)
	return path, hex.EncodeToString(sum[:])
}

func TestCalculateChecksum(t *testing.T) {
	path, want := writeModelBytes(t, "weights.bin", []byte("stable diffusion weights"))

	got, err := CalculateChecksum(path)
	if err != nil {
		t.Fatalf("CalculateChecksum() failed: %v", err)
	}
	if got != want {
		t.Errorf("CalculateChecksum() = %s, want %s", got, want)
	}

	if _, err := CalculateChecksum(path + ".missing"); !IsModelNotFound(err) {
		t.Errorf("missing file error = %v, want ErrModelNotFound", err)
	}
}

func TestVerifyModelChecksum(t *testing.T) {
	data := []byte("verified model contents")

	t.Run("unregistered passes", func(t *testing.T) {
		path, _ := writeModelBytes(t, "unregistered-model.safetensors", data)
		ok, err := VerifyModelChecksum(path)
		if err != nil || ok {
			t.Errorf("VerifyModelChecksum() = %v, %v; want false, nil", ok, err)
		}
	})

	t.Run("match", func(t *testing.T) {
		path, sum := writeModelBytes(t, "verify-match.safetensors", data)
		if err := RegisterModelChecksum("verify-match.safetensors", strings.ToUpper(sum)); err != nil {
			t.Fatalf("RegisterModelChecksum() failed: %v", err)
		}
		ok, err := VerifyModelChecksum(path)
		if err != nil || !ok {
			t.Errorf("VerifyModelChecksum() = %v, %v; want true, nil", ok, err)
		}
	})

	t.Run("mismatch", func(t *testing.T) {
		path, _ := writeModelBytes(t, "verify-mismatch.safetensors", data)
		if err := RegisterModelChecksum("verify-mismatch.safetensors", strings.Repeat("0", 64)); err != nil {
			t.Fatalf("RegisterModelChecksum() failed: %v", err)
		}
		_, err := VerifyModelChecksum(path)
		if !IsModelCorrupted(err) {
			t.Errorf("VerifyModelChecksum() = %v, want ErrModelCorrupted", err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := VerifyModelChecksum(filepath.Join(t.TempDir(), "nope.safetensors"))
		if !errors.Is(err, ErrModelNotFound) {
			t.Errorf("VerifyModelChecksum() = %v, want ErrModelNotFound", err)
		}
	})
}

func TestRegisterModelChecksum_Validation(t *testing.T) {
	tests := []struct {
		name     string
		checksum string
	}{
		{"too short", "abc123"},
		{"not hex", strings.Repeat("z", 64)},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := RegisterModelChecksum("x.safetensors", tt.checksum); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, ok := GetExpectedChecksum("x.safetensors"); ok {
		t.Error("invalid checksum should not be registered")
	}
}

func TestGetExpectedChecksum_Builtin(t *testing.T) {
	sum, ok := GetExpectedChecksum("v1-5-pruned-emaonly.safetensors")
	if !ok || len(sum) != 64 {
		t.Errorf("builtin checksum missing: %q %v", sum, ok)
	}
}
