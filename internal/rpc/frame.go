package rpc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/mattjoyce/analyst/internal/cluster"
)

const (
	// DefaultMaxFrameBytes caps a single frame read from the wire.
	DefaultMaxFrameBytes = 10 * 1024 * 1024

	compressThreshold = 64 * 1024

	flagPlain byte = 0
	flagZstd  byte = 1
)

// envelope is the JSON body of every frame.
type envelope struct {
	ID     string                    `json:"id"`
	Method string                    `json:"method,omitempty"`
	Body   json.RawMessage           `json:"body,omitempty"`
	Error  *cluster.ClusterException `json:"error,omitempty"`
}

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(4*DefaultMaxFrameBytes)))
	})
	return encoder, decoder, codecErr
}

func marshalFrame(env *envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	if len(data) < compressThreshold {
		return append([]byte{flagPlain}, data...), nil
	}

	enc, _, err := zstdCodec()
	if err != nil {
		return nil, fmt.Errorf("init zstd: %w", err)
	}
	out := make([]byte, 1, len(data)/2)
	out[0] = flagZstd
	return enc.EncodeAll(data, out), nil
}

func unmarshalFrame(frame []byte, maxBytes int) (*envelope, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	data := frame[1:]
	switch frame[0] {
	case flagPlain:
	case flagZstd:
		_, dec, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("init zstd: %w", err)
		}
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress frame: %w", err)
		}
		if maxBytes > 0 && len(data) > maxBytes {
			return nil, fmt.Errorf("decompressed frame exceeds %d bytes", maxBytes)
		}
	default:
		return nil, fmt.Errorf("unknown frame flag %d", frame[0])
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.ID == "" {
		return nil, fmt.Errorf("envelope missing id")
	}
	return &env, nil
}
