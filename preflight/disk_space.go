package preflight

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jaypaulb/sdbridge/core"
)

// DiskSpaceInfo describes the filesystem holding a path.
type DiskSpaceInfo struct {
	Path        string
	Total       int64
	Free        int64
	Used        int64
	UsedPercent float64
}

// DiskSpaceError reports that a filesystem has less free space than needed.
type DiskSpaceError struct {
	Path      string
	Required  int64
	Available int64
}

func (e *DiskSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space at %s: need %s, have %s free",
		e.Path, core.FormatBytes(e.Required), core.FormatBytes(e.Available))
}

// GetDiskSpace returns usage for the filesystem containing path. A path
// that does not exist yet is resolved to its nearest existing ancestor.
func GetDiskSpace(path string) (*DiskSpaceInfo, error) {
	path, err := existingDir(path)
	if err != nil {
		return nil, err
	}

	total, free, err := getDiskSpace(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get disk space for %s: %w", path, err)
	}

	used := total - free
	var usedPercent float64
	if total > 0 {
		usedPercent = float64(used) / float64(total) * 100
	}
	return &DiskSpaceInfo{
		Path:        path,
		Total:       total,
		Free:        free,
		Used:        used,
		UsedPercent: usedPercent,
	}, nil
}

// CheckDiskSpace returns a *DiskSpaceError when path has less than
// requiredBytes free.
func CheckDiskSpace(path string, requiredBytes int64) error {
	info, err := GetDiskSpace(path)
	if err != nil {
		return err
	}
	if info.Free < requiredBytes {
		return &DiskSpaceError{Path: path, Required: requiredBytes, Available: info.Free}
	}
	return nil
}

// EstimateOutputBytes is a generous upper bound for a batch of PNGs:
// uncompressed RGBA plus the contact sheet.
func EstimateOutputBytes(width, height, batch int) int64 {
	perImage := int64(width) * int64(height) * 4
	return perImage * int64(batch+1)
}

func existingDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	for {
		info, err := os.Stat(abs)
		if err == nil {
			if !info.IsDir() {
				return filepath.Dir(abs), nil
			}
			return abs, nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("cannot access path %s: %w", abs, err)
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		abs = parent
	}
}
