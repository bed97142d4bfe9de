package resource

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// upperDecoder is a toy codec that uppercases text payloads.
type upperDecoder struct{}

func (upperDecoder) Decode(name string, data []byte) (*Resource, error) {
	return &Resource{
		Data:  data,
		Value: strings.ToUpper(string(data)),
	}, nil
}

func (upperDecoder) Extensions() []string { return []string{"txt"} }

func TestDecodeRawFallback(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	res, err := Decode("blob.bin", data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if res.Key != "blob.bin" || res.Source != "blob.bin" {
		t.Errorf("raw fallback should set key and source, got %q / %q", res.Key, res.Source)
	}
	if string(res.Data) != string(data) {
		t.Error("raw fallback should keep bytes untouched")
	}
	if res.Value != nil {
		t.Error("raw fallback should not produce a decoded value")
	}
}

func TestDecodeRegisteredDecoder(t *testing.T) {
	RegisterDecoder(upperDecoder{})

	res, err := Decode("note.txt", []byte("hello"))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if res.Value != "HELLO" {
		t.Errorf("expected decoded value HELLO, got %v", res.Value)
	}
	if res.Key != "note.txt" {
		t.Errorf("Decode should backfill Key, got %q", res.Key)
	}
}

func TestDecodeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	if err := os.WriteFile(path, []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}

	res, err := DecodeFile(path)
	if err != nil {
		t.Fatalf("DecodeFile failed: %v", err)
	}
	if string(res.Data) != "payload" {
		t.Errorf("unexpected data: %q", res.Data)
	}

	if _, err := DecodeFile(filepath.Join(dir, "missing.bin")); err == nil {
		t.Error("DecodeFile should fail for missing files")
	}
}

func TestPlaceholders(t *testing.T) {
	loading := LoadingPlaceholder()
	if loading == nil || len(loading.Data) == 0 {
		t.Fatal("loading placeholder should carry embedded bytes")
	}

	errRes := ErrorPlaceholder()
	if errRes == nil || len(errRes.Data) == 0 {
		t.Fatal("error placeholder should carry embedded bytes")
	}

	if loading == errRes {
		t.Error("placeholders must be distinct resources")
	}

	// Lazily initialized once; repeated calls return the same instance.
	if LoadingPlaceholder() != loading {
		t.Error("LoadingPlaceholder should be a singleton")
	}
}

func TestResourceSize(t *testing.T) {
	var nilRes *Resource
	if nilRes.Size() != 0 {
		t.Error("nil resource should report size 0")
	}

	res := &Resource{Data: make([]byte, 42)}
	if res.Size() != 42 {
		t.Errorf("expected size 42, got %d", res.Size())
	}
}
