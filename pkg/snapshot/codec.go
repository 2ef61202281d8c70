package snapshot

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	perrors "github.com/scope-profiler/pkg/errors"
)

// Codec is the compression applied to a snapshot document.
type Codec uint8

const (
	// CodecNone writes plain JSON.
	CodecNone Codec = iota
	// CodecGzip writes gzip-compressed JSON.
	CodecGzip
	// CodecZstd writes zstd-compressed JSON.
	CodecZstd
)

// String returns the codec name.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecGzip:
		return "gzip"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("Codec(%d)", uint8(c))
	}
}

// ParseCodec parses "none", "gzip" or "zstd".
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "", "none", "json":
		return CodecNone, nil
	case "gzip", "gz":
		return CodecGzip, nil
	case "zstd", "zst":
		return CodecZstd, nil
	default:
		return CodecNone, perrors.Newf(perrors.CodeInvalidInput, "unknown codec %q", s)
	}
}

// CodecForPath picks the codec from a file extension (.gz, .zst).
func CodecForPath(path string) Codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return CodecGzip
	case ".zst", ".zstd":
		return CodecZstd
	default:
		return CodecNone
	}
}

// DetectCodec identifies the codec from the leading magic bytes.
func DetectCodec(prefix []byte) Codec {
	switch {
	case len(prefix) >= 4 && prefix[0] == 0x28 && prefix[1] == 0xb5 && prefix[2] == 0x2f && prefix[3] == 0xfd:
		return CodecZstd
	case len(prefix) >= 2 && prefix[0] == 0x1f && prefix[1] == 0x8b:
		return CodecGzip
	default:
		return CodecNone
	}
}

// Encode writes snap to w as JSON compressed with codec.
func Encode(w io.Writer, snap *Snapshot, codec Codec) error {
	switch codec {
	case CodecNone:
		return encodeJSON(w, snap)

	case CodecGzip:
		gz := gzip.NewWriter(w)
		if err := encodeJSON(gz, snap); err != nil {
			gz.Close()
			return err
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to close gzip writer: %w", err)
		}
		return nil

	case CodecZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		if err := encodeJSON(zw, snap); err != nil {
			zw.Close()
			return err
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to close zstd encoder: %w", err)
		}
		return nil

	default:
		return perrors.Newf(perrors.CodeInvalidInput, "unknown codec %d", codec)
	}
}

func encodeJSON(w io.Writer, snap *Snapshot) error {
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}

// Decode reads a snapshot from r, detecting the codec from its magic bytes.
func Decode(r io.Reader) (*Snapshot, error) {
	br := bufio.NewReader(r)
	prefix, _ := br.Peek(4)

	var src io.Reader = br
	switch DetectCodec(prefix) {
	case CodecGzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		src = gz
	case CodecZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	var snap Snapshot
	if err := json.NewDecoder(src).Decode(&snap); err != nil {
		return nil, perrors.Wrap(perrors.CodeInvalidInput, "decode snapshot", err)
	}
	if snap.Version != FormatVersion {
		return nil, perrors.Newf(perrors.CodeInvalidInput, "unsupported snapshot version %d", snap.Version)
	}
	return &snap, nil
}

// Marshal encodes snap into memory.
func Marshal(snap *Snapshot, codec Codec) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, snap, codec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
