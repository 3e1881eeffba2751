package cache

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

// generic converts v into the JSON-generic form Decompress returns.
func generic(t *testing.T, v any) any {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %v: %v", v, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return out
}

func TestCodecRoundTrip(t *testing.T) {
	values := []struct {
		name  string
		value any
	}{
		{"nil", nil},
		{"empty string", ""},
		{"empty map", map[string]any{}},
		{"empty slice", []any{}},
		{"number", 42.5},
		{"nested", map[string]any{"n": 42, "rows": []any{[]any{1, 2}, map[string]any{"a": "b"}}}},
		{"repeats", strings.Repeat("a", 500) + "bbbb" + "ccc"},
		{"digits", "1111222233334444 100:200 ~3:x"},
		{"markers", "~~~~ ~ ~~ :~: ~10:a"},
		{"non-ascii", "日本語日本語 ééééé 🙂🙂🙂🙂🙂"},
		{"cells", map[string]any{"A1": "=SUM(B1:B9)", "B1": 0, "B2": 0, "B3": 0}},
	}

	for _, algorithm := range []string{"gzip", "zstd", "brotli", "rle"} {
		codec := NewCodec(CodecConfig{Algorithm: algorithm})
		t.Cleanup(codec.Close)

		for _, tt := range values {
			t.Run(algorithm+"/"+tt.name, func(t *testing.T) {
				p, err := codec.Compress(tt.value)
				if err != nil {
					t.Fatalf("Compress: %v", err)
				}
				if p == nil {
					t.Fatal("expected a payload with MinSize 0")
				}

				got, err := codec.Decompress(p.Data, p.Encoding)
				if err != nil {
					t.Fatalf("Decompress: %v", err)
				}
				if want := generic(t, tt.value); !reflect.DeepEqual(got, want) {
					t.Errorf("round trip = %#v, want %#v", got, want)
				}
			})
		}
	}
}

func TestCodecProbe(t *testing.T) {
	tests := []struct {
		algorithm string
		encoding  string
		native    bool
	}{
		{"", EncodingGzip, true},
		{"gzip", EncodingGzip, true},
		{"ZSTD", EncodingZstd, true},
		{"brotli", EncodingBrotli, true},
		{"br", EncodingBrotli, true},
		{"rle", EncodingRLE, false},
		{"lz4", EncodingRLE, false},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			codec := NewCodec(CodecConfig{Algorithm: tt.algorithm})
			defer codec.Close()

			if codec.Encoding() != tt.encoding {
				t.Errorf("Encoding() = %s, want %s", codec.Encoding(), tt.encoding)
			}
			if codec.Native() != tt.native {
				t.Errorf("Native() = %v, want %v", codec.Native(), tt.native)
			}
		})
	}
}

func TestCodecMinSize(t *testing.T) {
	codec := NewCodec(CodecConfig{Algorithm: "gzip", MinSize: 64})

	p, err := codec.Compress("short")
	if err != nil || p != nil {
		t.Errorf("short value should stay raw, got %v, %v", p, err)
	}

	p, err = codec.Compress(strings.Repeat("x", 100))
	if err != nil || p == nil {
		t.Fatalf("long value should compress, got %v, %v", p, err)
	}
	if p.CompressedSize >= p.OriginalSize {
		t.Errorf("expected repetitive input to shrink: %d -> %d", p.OriginalSize, p.CompressedSize)
	}
	if p.Ratio() <= 0 {
		t.Errorf("expected positive ratio, got %f", p.Ratio())
	}
}

func TestCodecUnserializable(t *testing.T) {
	codec := NewCodec(CodecConfig{})

	if _, err := codec.Compress(make(chan int)); err == nil {
		t.Error("expected error for unserializable value")
	}
}

func TestCodecCrossEncoding(t *testing.T) {
	zstdCodec := NewCodec(CodecConfig{Algorithm: "zstd"})
	defer zstdCodec.Close()
	gzipCodec := NewCodec(CodecConfig{Algorithm: "gzip"})
	defer gzipCodec.Close()

	p, err := zstdCodec.Compress(map[string]any{"k": "v"})
	if err != nil {
		t.Fatal(err)
	}

	// A codec configured for gzip still reads payloads persisted as zstd.
	got, err := gzipCodec.Decompress(p.Data, p.Encoding)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, map[string]any{"k": "v"}) {
		t.Errorf("got %#v", got)
	}
}

func TestCodecDecodeGarbage(t *testing.T) {
	codec := NewCodec(CodecConfig{})

	for _, enc := range []string{EncodingGzip, EncodingZstd, EncodingBrotli, "snappy"} {
		if _, err := codec.Decompress([]byte("not compressed"), enc); err == nil {
			t.Errorf("%s: expected error for garbage payload", enc)
		}
	}
}

func TestRLE(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abc", "abc"},
		{"aaa", "aaa"},
		{"aaaa", "~4:a"},
		{"~", "~1:~"},
		{"a~~b", "a~2:~b"},
		{"xxxxx12", "~5:x12"},
		{"ééééé", "~5:é"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := rleEncode(tt.in)
			if got != tt.want {
				t.Errorf("rleEncode(%q) = %q, want %q", tt.in, got, tt.want)
			}
			back, err := rleDecode(got)
			if err != nil {
				t.Fatalf("rleDecode(%q): %v", got, err)
			}
			if back != tt.in {
				t.Errorf("rleDecode(%q) = %q, want %q", got, back, tt.in)
			}
		})
	}

	for _, bad := range []string{"~", "~3", "~3:", "~x:a", "~0:a"} {
		if _, err := rleDecode(bad); err == nil {
			t.Errorf("rleDecode(%q) should fail", bad)
		}
	}
}
