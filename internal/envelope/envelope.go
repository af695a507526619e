// Package envelope builds the provenance record stored in every output
// container.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/proface/preprocessor/internal/plugin"
)

const (
	MetadataVersion = "0.1"
	Type            = "FEA"
	FormatVersion   = "1.0"
)

// Envelope is the metadata record. Field order is fixed by the struct and is
// part of the encoding.
type Envelope struct {
	MetadataVersion string    `json:"metadata-version"`
	Type            string    `json:"type"`
	Version         string    `json:"version"`
	Generator       Generator `json:"generator"`
}

// Generator identifies the dispatcher and the plugin that produced the
// container.
type Generator struct {
	Name    string     `json:"name"`
	Version string     `json:"version"`
	Plugin  Provenance `json:"plugin"`
}

// Provenance is where the plugin came from.
type Provenance struct {
	Package    string `json:"distribution-package"`
	Version    string `json:"distribution-version"`
	EntryPoint string `json:"distribution-entry point"`
}

// Build assembles the envelope for a run.
func Build(name, version string, rec plugin.Record) Envelope {
	return Envelope{
		MetadataVersion: MetadataVersion,
		Type:            Type,
		Version:         FormatVersion,
		Generator: Generator{
			Name:    name,
			Version: version,
			Plugin: Provenance{
				Package:    rec.Distribution,
				Version:    rec.Version,
				EntryPoint: rec.EntryPoint,
			},
		},
	}
}

// Encode returns the compact JSON form. The same envelope always encodes to
// the same bytes.
func (e Envelope) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses an encoded envelope, as read back from a container.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if e.MetadataVersion == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing metadata-version")
	}
	return e, nil
}
