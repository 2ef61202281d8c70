package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
)

// WriteResult describes a written snapshot file.
type WriteResult struct {
	Codec          Codec
	JSONSize       int64
	CompressedSize int64
	// CompressionPct is CompressedSize as a percentage of JSONSize.
	CompressionPct float64
}

// WriteFile writes snap to path, compressing according to the extension.
func WriteFile(snap *Snapshot, path string) (*WriteResult, error) {
	codec := CodecForPath(path)

	jsonData, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := Encode(file, snap, codec); err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	res := &WriteResult{
		Codec:          codec,
		JSONSize:       int64(len(jsonData)) + 1, // Encode appends a newline
		CompressedSize: info.Size(),
	}
	if res.JSONSize > 0 {
		res.CompressionPct = float64(res.CompressedSize) / float64(res.JSONSize) * 100
	}
	return res, nil
}

// ReadFile reads a snapshot written by WriteFile, whatever its codec.
func ReadFile(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()
	return Decode(file)
}
