package sdruntime

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"
)

// PNG magic bytes for file identification
var pngMagic = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// Image validation errors
var (
	ErrImageEmpty       = errors.New("sdruntime: image data is empty")
	ErrImageNotPNG      = errors.New("sdruntime: image data is not a valid PNG")
	ErrImageTooSmall    = errors.New("sdruntime: image data too small to be valid")
	ErrImageDecodeFail  = errors.New("sdruntime: failed to decode image")
	ErrImageInvalidSize = errors.New("sdruntime: invalid image dimensions")
)

// Image is a Go-owned copy of an sd_image_t: row-major pixel data plus
// its dimensions. Images returned by Generate always have 4 channels (RGBA).
type Image struct {
	Data     []byte
	Width    int
	Height   int
	Channels int
}

// Validate checks that the descriptor is RGBA and that Data holds exactly
// Width*Height*Channels bytes.
func (img Image) Validate() error {
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("%w: width=%d height=%d", ErrImageInvalidSize, img.Width, img.Height)
	}
	if img.Channels != ImageChannels {
		return fmt.Errorf("%w: expected %d channels, got %d", ErrImageInvalidSize, ImageChannels, img.Channels)
	}
	if want := ImageDataSize(img.Width, img.Height); len(img.Data) != want {
		return fmt.Errorf("%w: expected %d bytes for %dx%d RGBA, got %d",
			ErrImageInvalidSize, want, img.Width, img.Height, len(img.Data))
	}
	return nil
}

// RGBA returns the image as an *image.RGBA sharing no memory with img.
func (img Image) RGBA() (*image.RGBA, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	rgba := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	copy(rgba.Pix, img.Data)
	return rgba, nil
}

// PNG encodes the image as PNG.
func (img Image) PNG() ([]byte, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return EncodeToPNG(img.Data, img.Width, img.Height)
}

// Thumbnail scales the image so that its longer side is maxDim pixels,
// preserving aspect ratio. Images already within maxDim are copied unchanged.
func (img Image) Thumbnail(maxDim int) (Image, error) {
	if maxDim <= 0 {
		return Image{}, fmt.Errorf("%w: thumbnail size %d", ErrImageInvalidSize, maxDim)
	}
	src, err := img.RGBA()
	if err != nil {
		return Image{}, err
	}
	if img.Width <= maxDim && img.Height <= maxDim {
		return FromRGBA(src), nil
	}

	scale := float64(maxDim) / float64(max(img.Width, img.Height))
	w := max(1, int(float64(img.Width)*scale))
	h := max(1, int(float64(img.Height)*scale))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return FromRGBA(dst), nil
}

// FromRGBA converts an *image.RGBA into an Image, copying its pixels.
func FromRGBA(src *image.RGBA) Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	data := make([]byte, 0, ImageDataSize(w, h))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		start := src.PixOffset(b.Min.X, y)
		data = append(data, src.Pix[start:start+w*4]...)
	}
	return Image{Data: data, Width: w, Height: h, Channels: ImageChannels}
}

// DecodePNG decodes PNG bytes into an RGBA Image.
func DecodePNG(data []byte) (Image, error) {
	if err := ValidateImageData(data); err != nil {
		return Image{}, err
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrImageDecodeFail, err)
	}
	b := decoded.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), decoded, b.Min, draw.Src)
	return FromRGBA(rgba), nil
}

// IsPNG checks if the given data starts with PNG magic bytes.
// This is a pure function with no side effects.
func IsPNG(data []byte) bool {
	if len(data) < len(pngMagic) {
		return false
	}
	return bytes.Equal(data[:len(pngMagic)], pngMagic)
}

// ValidateImageData validates that data is a valid PNG image.
// Returns nil if valid, error otherwise.
// This is a pure function with no side effects.
func ValidateImageData(data []byte) error {
	if len(data) == 0 {
		return ErrImageEmpty
	}

	// Minimum PNG file size (header + IHDR + IEND chunks)
	// 8 (signature) + 25 (IHDR) + 12 (IEND) = 45 bytes minimum
	if len(data) < 45 {
		return ErrImageTooSmall
	}

	if !IsPNG(data) {
		return ErrImageNotPNG
	}

	if _, err := png.DecodeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrImageDecodeFail, err)
	}

	return nil
}

// EncodeToPNG encodes raw RGBA pixels to PNG format.
// pixels must be in RGBA format (4 bytes per pixel).
// This is a pure function with no side effects.
func EncodeToPNG(pixels []byte, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: width=%d height=%d", ErrImageInvalidSize, width, height)
	}

	expectedLen := ImageDataSize(width, height)
	if len(pixels) != expectedLen {
		return nil, fmt.Errorf("%w: expected %d bytes for %dx%d RGBA, got %d",
			ErrImageInvalidSize, expectedLen, width, height, len(pixels))
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, pixels)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecodeFail, err)
	}

	return buf.Bytes(), nil
}

// ImageDataSize calculates the byte size needed for RGBA image data.
func ImageDataSize(width, height int) int {
	return width * height * ImageChannels
}

// toRGBA converts raw 3- or 4-channel row-major pixels into an RGBA Image.
// Three-channel input gets an opaque alpha channel.
func toRGBA(raw []byte, width, height, channels int) (Image, error) {
	pixels := width * height
	if len(raw) != pixels*channels {
		return Image{}, fmt.Errorf("%w: expected %d bytes for %dx%dx%d, got %d",
			ErrImageInvalidSize, pixels*channels, width, height, channels, len(raw))
	}

	switch channels {
	case ImageChannels:
		return Image{Data: raw, Width: width, Height: height, Channels: ImageChannels}, nil
	case 3:
		data := make([]byte, ImageDataSize(width, height))
		for i := 0; i < pixels; i++ {
			copy(data[i*4:i*4+3], raw[i*3:i*3+3])
			data[i*4+3] = 0xFF
		}
		return Image{Data: data, Width: width, Height: height, Channels: ImageChannels}, nil
	default:
		return Image{}, fmt.Errorf("%w: unsupported channel count %d", ErrImageInvalidSize, channels)
	}
}
