package rowflow

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func compressBytes(t *testing.T, c Compression, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	switch c {
	case CompressionNone:
		buf.Write(data)
	case CompressionGZ:
		w := gzip.NewWriter(&buf)
		_, err := w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case CompressionXZ:
		w, err := xz.NewWriter(&buf)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case CompressionZSTD:
		w, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	default:
		t.Fatalf("cannot compress with %s", c)
	}
	return buf.Bytes()
}

// TestCompressionHandlerInterface tests the CompressionHandler interface implementation
func TestCompressionHandlerInterface(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		compression Compression
		extension   string
	}{
		{name: "No compression", compression: CompressionNone, extension: ""},
		{name: "Gzip compression", compression: CompressionGZ, extension: ".gz"},
		{name: "XZ compression", compression: CompressionXZ, extension: ".xz"},
		{name: "ZSTD compression", compression: CompressionZSTD, extension: ".zst"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := NewCompressionHandler(tt.compression)
			assert.Equal(t, tt.extension, handler.Extension())

			testData := []byte("id,name\n1,alice\n")
			reader, closeReader, err := handler.CreateReader(bytes.NewReader(compressBytes(t, tt.compression, testData)))
			require.NoError(t, err)
			got, err := io.ReadAll(reader)
			require.NoError(t, err)
			require.NoError(t, closeReader())
			assert.Equal(t, testData, got)
		})
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	t.Parallel()

	for _, c := range []Compression{CompressionNone, CompressionGZ, CompressionXZ, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			w, closeWriter, err := NewCompressionHandler(c).CreateWriter(&buf)
			require.NoError(t, err)
			_, err = io.WriteString(w, "hello, compressed world")
			require.NoError(t, err)
			require.NoError(t, closeWriter())

			r, closeReader, err := NewCompressionHandler(c).CreateReader(&buf)
			require.NoError(t, err)
			defer closeReader()
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, "hello, compressed world", string(got))
		})
	}
}

func TestCompressionWriterUnsupported(t *testing.T) {
	t.Parallel()

	for _, c := range []Compression{CompressionBZ2, CompressionAuto} {
		_, _, err := NewCompressionHandler(c).CreateWriter(io.Discard)
		require.Error(t, err, c.String())
		assert.True(t, errors.Is(err, ErrConfiguration))
		assert.False(t, c.canWrite())
	}
}

func TestDetectCompression(t *testing.T) {
	t.Parallel()

	data := []byte("a,b\n1,2\n")
	tests := []struct {
		name  string
		input []byte
		want  Compression
	}{
		{name: "plain", input: data, want: CompressionNone},
		{name: "gzip", input: compressBytes(t, CompressionGZ, data), want: CompressionGZ},
		{name: "xz", input: compressBytes(t, CompressionXZ, data), want: CompressionXZ},
		{name: "zstd", input: compressBytes(t, CompressionZSTD, data), want: CompressionZSTD},
		{name: "bzip2 magic", input: []byte("BZh91AY&SY"), want: CompressionBZ2},
		{name: "empty", input: nil, want: CompressionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			br := bufio.NewReader(bytes.NewReader(tt.input))
			got, err := DetectCompression(br)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			// detection must not consume input
			rest, err := io.ReadAll(br)
			require.NoError(t, err)
			assert.Equal(t, len(tt.input), len(rest))
		})
	}
}

func TestCompressionAutoReader(t *testing.T) {
	t.Parallel()

	data := []byte("id,name\n1,alice\n")
	for _, c := range []Compression{CompressionNone, CompressionGZ, CompressionZSTD, CompressionXZ} {
		r, closeReader, err := NewCompressionHandler(CompressionAuto).CreateReader(bytes.NewReader(compressBytes(t, c, data)))
		require.NoError(t, err, c.String())
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		require.NoError(t, closeReader())
		assert.Equal(t, data, got, c.String())
	}
}

func TestInvalidCompressionReader(t *testing.T) {
	t.Parallel()

	invalid := strings.NewReader("definitely not compressed")
	for _, c := range []Compression{CompressionGZ, CompressionXZ} {
		_, _, err := NewCompressionHandler(c).CreateReader(invalid)
		require.Error(t, err, c.String())
		assert.True(t, errors.Is(err, ErrParse), c.String())
		_, _ = invalid.Seek(0, io.SeekStart)
	}
}
