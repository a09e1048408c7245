package protocol

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag says how a UserData payload is compressed.
type CompressionTag uint8

const (
	CompressionNone CompressionTag = 0
	CompressionLZ4  CompressionTag = 1
	CompressionZstd CompressionTag = 2
)

func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses the names printed by String.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// MinCompressSize is the smallest payload NewUserData tries to compress.
const MinCompressSize = 256

var errIncompressible = errors.New("data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("protocol: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("protocol: zstd decoder initialization failed: " + err.Error())
	}
}

// NewUserData builds a UserData message for data, compressed with tag when
// that makes it smaller. Small or incompressible payloads go uncompressed.
func NewUserData(data []byte, tag CompressionTag) (*UserData, error) {
	msg := &UserData{Compression: CompressionNone, Size: uint32(len(data)), Payload: data}
	if tag == CompressionNone || len(data) < MinCompressSize {
		return msg, nil
	}

	var (
		compressed []byte
		err        error
	)
	switch tag {
	case CompressionLZ4:
		compressed, err = compressLZ4(data)
	case CompressionZstd:
		compressed, err = compressZstd(data)
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
	if errors.Is(err, errIncompressible) {
		return msg, nil
	}
	if err != nil {
		return nil, err
	}

	msg.Compression = tag
	msg.Payload = compressed
	return msg, nil
}

// Data returns the uncompressed payload.
func (m *UserData) Data() ([]byte, error) {
	switch m.Compression {
	case CompressionNone:
		if len(m.Payload) != int(m.Size) {
			return nil, fmt.Errorf("user data: size %d does not match header %d", len(m.Payload), m.Size)
		}
		return m.Payload, nil
	case CompressionLZ4:
		return decompressLZ4(m.Payload, int(m.Size))
	case CompressionZstd:
		return decompressZstd(m.Payload, int(m.Size))
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", m.Compression)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	if size > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	if size > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
	}
	return result, nil
}
