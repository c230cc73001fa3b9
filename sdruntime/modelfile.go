package sdruntime

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// ModelFormat is the on-disk container format of a weights file.
type ModelFormat string

const (
	FormatUnknown     ModelFormat = "unknown"
	FormatSafetensors ModelFormat = "safetensors"
	FormatCheckpoint  ModelFormat = "ckpt"
	FormatGGUF        ModelFormat = "gguf"
)

// maxSafetensorsHeader bounds the JSON header we are willing to read.
const maxSafetensorsHeader = 100 << 20

var (
	ggufMagic = []byte("GGUF")
	zipMagic  = []byte{'P', 'K', 0x03, 0x04}
)

// DetectModelFormat sniffs the header of the file at path.
// Unrecognized content returns an error wrapping ErrModelCorrupted.
func DetectModelFormat(path string) (ModelFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FormatUnknown, fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return FormatUnknown, fmt.Errorf("failed to open model file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return FormatUnknown, fmt.Errorf("failed to stat model file: %w", err)
	}

	head := make([]byte, 9)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if errors.Is(err, io.EOF) {
			return FormatUnknown, fmt.Errorf("%w: %s is empty", ErrModelCorrupted, path)
		}
		return FormatUnknown, fmt.Errorf("failed to read model header: %w", err)
	}
	head = head[:n]

	return sniffFormat(head, info.Size(), path)
}

func sniffFormat(head []byte, size int64, path string) (ModelFormat, error) {
	switch {
	case bytes.HasPrefix(head, ggufMagic):
		return FormatGGUF, nil
	case bytes.HasPrefix(head, zipMagic):
		return FormatCheckpoint, nil
	case len(head) >= 2 && head[0] == 0x80 && head[1] >= 2 && head[1] <= 5:
		// Bare pickle (protocol 2-5), used by older .ckpt files.
		return FormatCheckpoint, nil
	case len(head) == 9 && head[8] == '{':
		headerLen := binary.LittleEndian.Uint64(head[:8])
		if headerLen > 0 && headerLen <= maxSafetensorsHeader && int64(8+headerLen) <= size {
			return FormatSafetensors, nil
		}
	}
	return FormatUnknown, fmt.Errorf("%w: %s has an unrecognized header", ErrModelCorrupted, path)
}

// ModelInfo summarizes a weights file without loading it.
type ModelInfo struct {
	Path        string
	Format      ModelFormat
	SizeBytes   int64
	TensorCount int
	Type        ModelType         // Best guess from tensor names; ModelTypeUnknown if unclear
	Metadata    map[string]string // safetensors __metadata__, when present
	GGUFVersion uint32
	GGUFKVCount uint64
}

// InspectModel reads the container header of the file at path.
// Safetensors headers are decoded fully; GGUF headers are read up to the
// key/value count; checkpoints are only identified.
func InspectModel(path string) (*ModelInfo, error) {
	format, err := DetectModelFormat(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat model file: %w", err)
	}

	info := &ModelInfo{
		Path:      path,
		Format:    format,
		SizeBytes: stat.Size(),
		Type:      ModelTypeUnknown,
	}

	switch format {
	case FormatSafetensors:
		err = inspectSafetensors(f, info)
	case FormatGGUF:
		err = inspectGGUF(f, info)
	}
	if err != nil {
		return nil, err
	}
	return info, nil
}

// inspectSafetensors decodes the 8-byte length prefixed JSON header.
func inspectSafetensors(r io.Reader, info *ModelInfo) error {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return fmt.Errorf("%w: read safetensors header length: %v", ErrModelCorrupted, err)
	}
	headerLen := binary.LittleEndian.Uint64(lenBuf[:])

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("%w: read safetensors header: %v", ErrModelCorrupted, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(header, &raw); err != nil {
		return fmt.Errorf("%w: parse safetensors header: %v", ErrModelCorrupted, err)
	}

	if meta, ok := raw["__metadata__"]; ok {
		if err := json.Unmarshal(meta, &info.Metadata); err != nil {
			return fmt.Errorf("%w: parse safetensors metadata: %v", ErrModelCorrupted, err)
		}
		delete(raw, "__metadata__")
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	info.TensorCount = len(names)
	info.Type = GuessModelType(names)
	return nil
}

// maxGGUFCount bounds the tensor and metadata counts accepted from a header.
const maxGGUFCount = 1 << 20

// inspectGGUF reads magic, version, tensor count and kv count.
// Version 1 files use 32-bit counts.
func inspectGGUF(r io.Reader, info *ModelInfo) error {
	var hdr struct {
		Magic   [4]byte
		Version uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("%w: read gguf header: %v", ErrModelCorrupted, err)
	}
	info.GGUFVersion = hdr.Version

	if hdr.Version == 1 {
		var counts [2]uint32
		if err := binary.Read(r, binary.LittleEndian, &counts); err != nil {
			return fmt.Errorf("%w: read gguf counts: %v", ErrModelCorrupted, err)
		}
		return setGGUFCounts(info, uint64(counts[0]), uint64(counts[1]))
	}

	var counts [2]uint64
	if err := binary.Read(r, binary.LittleEndian, &counts); err != nil {
		return fmt.Errorf("%w: read gguf counts: %v", ErrModelCorrupted, err)
	}
	return setGGUFCounts(info, counts[0], counts[1])
}

func setGGUFCounts(info *ModelInfo, tensors, kvs uint64) error {
	if tensors > maxGGUFCount || kvs > maxGGUFCount {
		return fmt.Errorf("%w: gguf header claims %d tensors and %d metadata entries",
			ErrModelCorrupted, tensors, kvs)
	}
	info.TensorCount = int(tensors)
	info.GGUFKVCount = kvs
	return nil
}

// modelTypePrefixes lists tensor name prefixes unique to each family,
// checked in order.
var modelTypePrefixes = []struct {
	prefix string
	typ    ModelType
}{
	{"model.diffusion_model.joint_blocks.", ModelTypeSD3},
	{"text_encoders.", ModelTypeSD3},
	{"conditioner.embedders.1.", ModelTypeSDXL},
	{"cond_stage_model.model.", ModelTypeSD2},
	{"cond_stage_model.transformer.", ModelTypeSD1},
}

// GuessModelType infers the model family from tensor names.
func GuessModelType(tensorNames []string) ModelType {
	for _, candidate := range modelTypePrefixes {
		for _, name := range tensorNames {
			if strings.HasPrefix(name, candidate.prefix) {
				return candidate.typ
			}
		}
	}
	return ModelTypeUnknown
}
