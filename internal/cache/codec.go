package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	cerrors "github.com/tommygoverstreet/smart-spreadsheet2025/pkg/errors"
)

// Encodings produced by the codec.
const (
	EncodingGzip   = "gzip"
	EncodingZstd   = "zstd"
	EncodingBrotli = "br"
	EncodingRLE    = "rle"
)

// rleMarker starts an encoded run: ~<count>:<rune>
const rleMarker = '~'

var probeSample = []byte(`{"probe":"sheetcache sheetcache sheetcache","cells":[1,1,1,1,1,1]}`)

// CodecConfig configures value compression.
type CodecConfig struct {
	// Algorithm is gzip, zstd, brotli or rle.
	Algorithm string
	// Level is passed to the compressor; 0 selects its default.
	Level int
	// MinSize leaves serialized values shorter than this uncompressed.
	MinSize int
}

// Payload is a compressed value.
type Payload struct {
	Data           []byte
	Encoding       string
	OriginalSize   int
	CompressedSize int
}

// Native reports whether the payload came from a real compressor rather than the
// run-length fallback.
func (p *Payload) Native() bool {
	return p.Encoding != EncodingRLE
}

// Ratio is the fraction of the original size saved by compression.
func (p *Payload) Ratio() float64 {
	if p.OriginalSize == 0 {
		return 0
	}
	return float64(p.OriginalSize-p.CompressedSize) / float64(p.OriginalSize)
}

// Codec serializes values to JSON and compresses the result. The algorithm is
// probed once at construction; if it is unknown or fails the probe, the codec uses
// the run-length text transform for its whole lifetime.
type Codec struct {
	encoding string
	level    int
	minSize  int

	zstdOnce sync.Once
	zstdErr  error
	zenc     *zstd.Encoder
	zdec     *zstd.Decoder
}

// NewCodec builds a codec and runs the capability probe.
func NewCodec(cfg CodecConfig) *Codec {
	c := &Codec{level: cfg.Level, minSize: cfg.MinSize}

	switch strings.ToLower(strings.TrimSpace(cfg.Algorithm)) {
	case "gzip", "":
		c.encoding = EncodingGzip
	case "zstd":
		c.encoding = EncodingZstd
		if err := c.initZstd(); err != nil {
			c.encoding = EncodingRLE
		}
	case "brotli", "br":
		c.encoding = EncodingBrotli
	default:
		c.encoding = EncodingRLE
	}

	if c.encoding != EncodingRLE && !c.probe() {
		c.encoding = EncodingRLE
	}
	return c
}

// Encoding returns the encoding selected by the capability probe.
func (c *Codec) Encoding() string {
	return c.encoding
}

// Native reports whether a real compressor passed the capability probe.
func (c *Codec) Native() bool {
	return c.encoding != EncodingRLE
}

// Compress serializes v and encodes it. A nil payload with a nil error means the
// serialized form is below MinSize and should be stored raw.
func (c *Codec) Compress(v any) (*Payload, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrCodeCodecEncode, "value is not serializable").
			WithComponent("codec")
	}
	return c.Encode(raw)
}

// Encode compresses serialized bytes.
func (c *Codec) Encode(raw []byte) (*Payload, error) {
	if len(raw) < c.minSize {
		return nil, nil
	}

	data, err := c.encode(c.encoding, raw)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrCodeCodecEncode, "compression failed").
			WithComponent("codec").WithContext("encoding", c.encoding)
	}
	return &Payload{
		Data:           data,
		Encoding:       c.encoding,
		OriginalSize:   len(raw),
		CompressedSize: len(data),
	}, nil
}

// Decompress reverses Compress. Values decode to JSON-generic Go types.
func (c *Codec) Decompress(data []byte, encoding string) (any, error) {
	raw, err := c.Decode(data, encoding)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrCodeCodecDecode, "payload is not valid JSON").
			WithComponent("codec")
	}
	return v, nil
}

// Decode decompresses bytes produced by Encode with the given encoding. Payloads
// persisted under another algorithm remain readable.
func (c *Codec) Decode(data []byte, encoding string) ([]byte, error) {
	raw, err := c.decode(encoding, data)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrCodeCodecDecode, "decompression failed").
			WithComponent("codec").WithContext("encoding", encoding)
	}
	return raw, nil
}

// Close releases the zstd encoder and decoder.
func (c *Codec) Close() {
	if c.zenc != nil {
		_ = c.zenc.Close()
	}
	if c.zdec != nil {
		c.zdec.Close()
	}
}

func (c *Codec) initZstd() error {
	c.zstdOnce.Do(func() {
		level := zstd.SpeedDefault
		if c.level > 0 {
			level = zstd.EncoderLevelFromZstd(c.level)
		}
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		if err != nil {
			c.zstdErr = err
			return
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			_ = enc.Close()
			c.zstdErr = err
			return
		}
		c.zenc, c.zdec = enc, dec
	})
	return c.zstdErr
}

func (c *Codec) probe() bool {
	data, err := c.encode(c.encoding, probeSample)
	if err != nil {
		return false
	}
	back, err := c.decode(c.encoding, data)
	return err == nil && bytes.Equal(back, probeSample)
}

func (c *Codec) encode(encoding string, raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch encoding {
	case EncodingGzip:
		level := gzip.DefaultCompression
		if c.level != 0 {
			level = c.level
		}
		w, err := gzip.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case EncodingZstd:
		if err := c.initZstd(); err != nil {
			return nil, err
		}
		return c.zenc.EncodeAll(raw, nil), nil
	case EncodingBrotli:
		level := brotli.DefaultCompression
		if c.level != 0 {
			level = c.level
		}
		w := brotli.NewWriterLevel(&buf, level)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case EncodingRLE:
		if !utf8.Valid(raw) {
			return nil, fmt.Errorf("rle transform requires UTF-8 input")
		}
		return []byte(rleEncode(string(raw))), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

func (c *Codec) decode(encoding string, data []byte) ([]byte, error) {
	switch encoding {
	case EncodingGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer func() { _ = r.Close() }()
		return io.ReadAll(r)
	case EncodingZstd:
		if err := c.initZstd(); err != nil {
			return nil, err
		}
		return c.zdec.DecodeAll(data, nil)
	case EncodingBrotli:
		return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	case EncodingRLE:
		s, err := rleDecode(string(data))
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

// rleEncode writes runs of four or more identical runes, and every run of the
// marker rune, as ~<count>:<rune>. Other runes are copied as-is.
func rleEncode(s string) string {
	runes := []rune(s)
	var sb strings.Builder
	sb.Grow(len(s))

	for i := 0; i < len(runes); {
		r := runes[i]
		j := i + 1
		for j < len(runes) && runes[j] == r {
			j++
		}
		n := j - i
		if n >= 4 || r == rleMarker {
			sb.WriteRune(rleMarker)
			sb.WriteString(strconv.Itoa(n))
			sb.WriteByte(':')
			sb.WriteRune(r)
		} else {
			for k := 0; k < n; k++ {
				sb.WriteRune(r)
			}
		}
		i = j
	}
	return sb.String()
}

func rleDecode(s string) (string, error) {
	runes := []rune(s)
	var sb strings.Builder
	sb.Grow(len(s))

	for i := 0; i < len(runes); i++ {
		if runes[i] != rleMarker {
			sb.WriteRune(runes[i])
			continue
		}

		j := i + 1
		for j < len(runes) && runes[j] >= '0' && runes[j] <= '9' {
			j++
		}
		if j == i+1 || j+1 >= len(runes) || runes[j] != ':' {
			return "", fmt.Errorf("malformed run at offset %d", i)
		}
		n, err := strconv.Atoi(string(runes[i+1 : j]))
		if err != nil || n <= 0 {
			return "", fmt.Errorf("malformed run length at offset %d", i)
		}
		sb.WriteString(strings.Repeat(string(runes[j+1]), n))
		i = j + 1
	}
	return sb.String(), nil
}
