// Package resource defines the in-memory representation of a loaded resource
// and the codec registry that turns raw bytes into one.
//
// The loader itself never interprets resource contents. Decoding is delegated
// to registered Decoder implementations, selected by file extension, with a
// raw passthrough fallback so unknown formats still round-trip their bytes.
package resource

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Resource is a loaded (or loading) resource.
//
// Data always holds the raw encoded bytes. Keeping the bytes around allows a
// resource to be re-decoded later (for example when a persistent cache hands
// back the payload after a restart). Value holds the codec-specific decoded
// object and may be nil for the raw fallback codec.
type Resource struct {
	// Key is the logical identifier the resource was requested under.
	Key string

	// Source is where the bytes actually came from. For network loads this is
	// the original remote key, not the temporary spool file.
	Source string

	// Data is the raw encoded payload.
	Data []byte

	// Value is the decoded object produced by a registered Decoder.
	// Nil when the raw fallback codec was used.
	Value any
}

// Size returns the size of the raw payload in bytes.
func (r *Resource) Size() int64 {
	if r == nil {
		return 0
	}
	return int64(len(r.Data))
}

// Decoder turns raw bytes into a Resource.
//
// Implementations are external codecs (image decoders, font parsers, ...).
// They must be safe for concurrent use: the worker pool calls Decode from
// multiple goroutines.
type Decoder interface {
	// Decode parses data into a Resource. name is the originating file name
	// or key, available for format sniffing and error messages.
	Decode(name string, data []byte) (*Resource, error)

	// Extensions lists the file extensions (without dot, lowercase) this
	// decoder handles.
	Extensions() []string
}

var (
	decodersMu sync.RWMutex
	decoders   = make(map[string]Decoder)
)

// RegisterDecoder registers a decoder for each of its extensions.
// Later registrations win, so applications can override built-ins.
func RegisterDecoder(d Decoder) {
	decodersMu.Lock()
	defer decodersMu.Unlock()
	for _, ext := range d.Extensions() {
		decoders[strings.ToLower(ext)] = d
	}
}

// decoderFor returns the decoder registered for ext, or nil.
func decoderFor(ext string) Decoder {
	decodersMu.RLock()
	defer decodersMu.RUnlock()
	return decoders[strings.ToLower(strings.TrimPrefix(ext, "."))]
}

// Decode turns raw bytes into a Resource, selecting a decoder by the
// extension of name. Unknown extensions fall back to the raw codec, which
// wraps the bytes without interpreting them.
func Decode(name string, data []byte) (*Resource, error) {
	if d := decoderFor(filepath.Ext(name)); d != nil {
		res, err := d.Decode(name, data)
		if err != nil {
			return nil, fmt.Errorf("decode %q: %w", name, err)
		}
		if res.Key == "" {
			res.Key = name
		}
		if res.Source == "" {
			res.Source = name
		}
		return res, nil
	}

	return &Resource{Key: name, Source: name, Data: data}, nil
}

// DecodeFile reads path and decodes its contents.
func DecodeFile(path string) (*Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	return Decode(path, data)
}
