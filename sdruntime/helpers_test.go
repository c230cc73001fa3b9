package sdruntime

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
)

// writeSafetensors writes a minimal safetensors file whose header lists
// the given tensor names, plus optional metadata.
func writeSafetensors(t *testing.T, dir, name string, tensors []string, metadata map[string]string) string {
	t.Helper()

	header := make(map[string]interface{}, len(tensors)+1)
	for i, tensor := range tensors {
		header[tensor] = map[string]interface{}{
			"dtype":        "F16",
			"shape":        []int{1},
			"data_offsets": []int{i * 2, i*2 + 2},
		}
	}
	if metadata != nil {
		header["__metadata__"] = metadata
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}

	buf := make([]byte, 8, 8+len(headerBytes)+len(tensors)*2)
	binary.LittleEndian.PutUint64(buf, uint64(len(headerBytes)))
	buf = append(buf, headerBytes...)
	buf = append(buf, make([]byte, len(tensors)*2)...)

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatalf("write safetensors: %v", err)
	}
	return path
}

// writeGGUF writes a GGUF header with the given version and counts.
func writeGGUF(t *testing.T, dir, name string, version uint32, tensors, kvs uint64) string {
	t.Helper()

	buf := []byte("GGUF")
	buf = binary.LittleEndian.AppendUint32(buf, version)
	if version == 1 {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(tensors))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(kvs))
	} else {
		buf = binary.LittleEndian.AppendUint64(buf, tensors)
		buf = binary.LittleEndian.AppendUint64(buf, kvs)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatalf("write gguf: %v", err)
	}
	return path
}

// testModel returns the path of a small SD1-looking safetensors file.
func testModel(t *testing.T) string {
	t.Helper()
	return writeSafetensors(t, t.TempDir(), "model.safetensors", []string{
		"cond_stage_model.transformer.text_model.embeddings.token_embedding.weight",
		"model.diffusion_model.input_blocks.0.0.weight",
	}, nil)
}

// testParams returns small, fast generation parameters.
func testParams(prompt string, seed int64) GenerateParams {
	p := DefaultParams()
	p.Prompt = prompt
	p.Width = 128
	p.Height = 128
	p.Steps = 4
	p.Seed = seed
	return p
}

// requireStub skips tests that load the fake model files above; the real
// library rejects them.
func requireStub(t *testing.T) {
	t.Helper()
	if !IsStub() {
		t.Skip("requires the reference engine (built without -tags sd)")
	}
}

// newTestContext loads testModel and closes it when the test ends.
func newTestContext(t *testing.T) *Context {
	t.Helper()
	requireStub(t)
	c, err := LoadModel(testModel(t))
	if err != nil {
		t.Fatalf("LoadModel() failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}
