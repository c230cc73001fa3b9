package imagegen

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/jaypaulb/sdbridge/sdruntime"

	"golang.org/x/image/draw"
)

// PartialSuffix marks an image that is still being written. Files are
// renamed to their final name only after a complete write.
const PartialSuffix = ".partial"

// PartialPattern matches leftover partial images in an output directory.
const PartialPattern = "*.png" + PartialSuffix

// SavedImage describes one PNG written by SaveImages.
type SavedImage struct {
	Index  int
	Path   string
	Width  int
	Height int
	SHA256 string
}

// ImageFileName returns "<runID>-<index>.png".
func ImageFileName(runID string, index int) string {
	return fmt.Sprintf("%s-%d.png", runID, index)
}

// SaveImages encodes each image as PNG into dir (created if needed) and
// returns the written files in batch order. On error, files already
// written are left in place and returned.
func SaveImages(dir, runID string, images []sdruntime.Image) ([]SavedImage, error) {
	if runID == "" {
		return nil, fmt.Errorf("imagegen: run id is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("imagegen: failed to create output directory: %w", err)
	}

	saved := make([]SavedImage, 0, len(images))
	for i, img := range images {
		s, err := WriteImage(filepath.Join(dir, ImageFileName(runID, i)), img)
		if err != nil {
			return saved, fmt.Errorf("imagegen: image %d: %w", i, err)
		}
		s.Index = i
		saved = append(saved, s)
	}
	return saved, nil
}

// WriteImage encodes img as PNG and writes it to path through a .partial
// file, so path only ever holds a complete image.
func WriteImage(path string, img sdruntime.Image) (SavedImage, error) {
	data, err := img.PNG()
	if err != nil {
		return SavedImage{}, fmt.Errorf("encode: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return SavedImage{}, fmt.Errorf("write: %w", err)
	}

	sum := sha256.Sum256(data)
	return SavedImage{
		Path:   path,
		Width:  img.Width,
		Height: img.Height,
		SHA256: hex.EncodeToString(sum[:]),
	}, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + PartialSuffix
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// ContactSheet tiles images into a grid of cell x cell squares with the
// given number of columns. Each image is scaled to fit its cell and
// centered on a dark background.
func ContactSheet(images []sdruntime.Image, columns, cell int) (sdruntime.Image, error) {
	if len(images) == 0 {
		return sdruntime.Image{}, fmt.Errorf("imagegen: no images for contact sheet")
	}
	if columns <= 0 || cell <= 0 {
		return sdruntime.Image{}, fmt.Errorf("imagegen: invalid contact sheet layout %d columns, %dpx cells", columns, cell)
	}
	columns = min(columns, len(images))
	rows := (len(images) + columns - 1) / columns

	sheet := image.NewRGBA(image.Rect(0, 0, columns*cell, rows*cell))
	draw.Draw(sheet, sheet.Bounds(), image.NewUniform(color.RGBA{R: 24, G: 24, B: 24, A: 255}), image.Point{}, draw.Src)

	for i, img := range images {
		src, err := img.RGBA()
		if err != nil {
			return sdruntime.Image{}, fmt.Errorf("imagegen: contact sheet image %d: %w", i, err)
		}

		scale := float64(cell) / float64(max(img.Width, img.Height))
		w := max(1, int(float64(img.Width)*scale))
		h := max(1, int(float64(img.Height)*scale))

		x0 := (i%columns)*cell + (cell-w)/2
		y0 := (i/columns)*cell + (cell-h)/2
		draw.CatmullRom.Scale(sheet, image.Rect(x0, y0, x0+w, y0+h), src, src.Bounds(), draw.Over, nil)
	}

	return sdruntime.FromRGBA(sheet), nil
}
