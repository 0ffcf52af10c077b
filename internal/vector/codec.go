package vector

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/vexfs/vexfs"
)

// Compress encodes raw under the requested codec for LayoutCompressed
// vector payloads (spec §3's CompressionKind). CompressionNone is a no-op
// passthrough so callers can treat all four kinds uniformly.
func Compress(kind vexfs.CompressionKind, raw []byte) ([]byte, error) {
	switch kind {
	case vexfs.CompressionNone:
		return raw, nil
	case vexfs.CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, vexfs.Wrap(vexfs.ErrIo, "vector.Compress", err)
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	case vexfs.CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, vexfs.Wrap(vexfs.ErrIo, "vector.Compress", err)
		}
		if err := w.Close(); err != nil {
			return nil, vexfs.Wrap(vexfs.ErrIo, "vector.Compress", err)
		}
		return buf.Bytes(), nil
	case vexfs.CompressionXZ:
		var buf bytes.Buffer
		w, err := xz.NewWriter(&buf)
		if err != nil {
			return nil, vexfs.Wrap(vexfs.ErrIo, "vector.Compress", err)
		}
		if _, err := w.Write(raw); err != nil {
			return nil, vexfs.Wrap(vexfs.ErrIo, "vector.Compress", err)
		}
		if err := w.Close(); err != nil {
			return nil, vexfs.Wrap(vexfs.ErrIo, "vector.Compress", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, vexfs.Errorf(vexfs.ErrInvalidArgument, "vector.Compress", "unsupported compression kind %d", kind)
	}
}

// Decompress reverses Compress.
func Decompress(kind vexfs.CompressionKind, data []byte) ([]byte, error) {
	switch kind {
	case vexfs.CompressionNone:
		return data, nil
	case vexfs.CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, vexfs.Wrap(vexfs.ErrIo, "vector.Decompress", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, vexfs.Wrap(vexfs.ErrCorruption, "vector.Decompress", err)
		}
		return out, nil
	case vexfs.CompressionLZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, vexfs.Wrap(vexfs.ErrCorruption, "vector.Decompress", err)
		}
		return out, nil
	case vexfs.CompressionXZ:
		r, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, vexfs.Wrap(vexfs.ErrCorruption, "vector.Decompress", err)
		}
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, vexfs.Wrap(vexfs.ErrCorruption, "vector.Decompress", err)
		}
		return out, nil
	default:
		return nil, vexfs.Errorf(vexfs.ErrInvalidArgument, "vector.Decompress", "unsupported compression kind %d", kind)
	}
}
