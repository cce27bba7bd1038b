package rowflow

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// CompressionHandler wraps streams with compression and decompression
type CompressionHandler interface {
	// CreateReader wraps an io.Reader with a decompression reader if needed
	CreateReader(reader io.Reader) (io.Reader, func() error, error)
	// CreateWriter wraps an io.Writer with a compression writer if needed
	CreateWriter(writer io.Writer) (io.Writer, func() error, error)
	// Extension returns the file extension for this compression type (e.g., ".gz")
	Extension() string
}

// compressionHandlerImpl implements the CompressionHandler interface
type compressionHandlerImpl struct {
	compression Compression
}

// NewCompressionHandler creates a new compression handler for the given compression type
func NewCompressionHandler(compression Compression) CompressionHandler {
	return &compressionHandlerImpl{compression: compression}
}

// magic numbers of the supported compressed stream formats
var (
	magicGZ   = []byte{0x1f, 0x8b}
	magicBZ2  = []byte("BZh")
	magicXZ   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	magicZSTD = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// DetectCompression inspects the first bytes of br without consuming them
func DetectCompression(br *bufio.Reader) (Compression, error) {
	head, err := br.Peek(len(magicXZ))
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return CompressionNone, err
	}

	switch {
	case bytes.HasPrefix(head, magicGZ):
		return CompressionGZ, nil
	case bytes.HasPrefix(head, magicBZ2):
		return CompressionBZ2, nil
	case bytes.HasPrefix(head, magicXZ):
		return CompressionXZ, nil
	case bytes.HasPrefix(head, magicZSTD):
		return CompressionZSTD, nil
	default:
		return CompressionNone, nil
	}
}

// CreateReader creates a decompression reader based on the compression type
func (h *compressionHandlerImpl) CreateReader(reader io.Reader) (io.Reader, func() error, error) {
	compression := h.compression
	if compression == CompressionAuto {
		br := bufio.NewReader(reader)
		detected, err := DetectCompression(br)
		if err != nil {
			return nil, nil, &ParseError{Err: fmt.Errorf("failed to detect compression: %w", err)}
		}
		reader, compression = br, detected
	}

	switch compression {
	case CompressionNone:
		return reader, func() error { return nil }, nil

	case CompressionGZ:
		gzReader, err := gzip.NewReader(reader)
		if err != nil {
			return nil, nil, &ParseError{Err: fmt.Errorf("failed to create gzip reader: %w", err)}
		}
		return gzReader, gzReader.Close, nil

	case CompressionBZ2:
		// bzip2.NewReader doesn't need closing
		return bzip2.NewReader(reader), func() error { return nil }, nil

	case CompressionXZ:
		xzReader, err := xz.NewReader(reader)
		if err != nil {
			return nil, nil, &ParseError{Err: fmt.Errorf("failed to create xz reader: %w", err)}
		}
		// xz.Reader doesn't have a Close method
		return xzReader, func() error { return nil }, nil

	case CompressionZSTD:
		decoder, err := zstd.NewReader(reader)
		if err != nil {
			return nil, nil, &ParseError{Err: fmt.Errorf("failed to create zstd reader: %w", err)}
		}
		return decoder, func() error {
			decoder.Close()
			return nil
		}, nil

	default:
		return nil, nil, configErr("Compression", "unsupported compression type for reading: %v", compression)
	}
}

// CreateWriter creates a compression writer based on the compression type
func (h *compressionHandlerImpl) CreateWriter(writer io.Writer) (io.Writer, func() error, error) {
	switch h.compression {
	case CompressionNone:
		return writer, func() error { return nil }, nil

	case CompressionGZ:
		gzWriter := gzip.NewWriter(writer)
		return gzWriter, gzWriter.Close, nil

	case CompressionXZ:
		xzWriter, err := xz.NewWriter(writer)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create xz writer: %w", err)
		}
		return xzWriter, xzWriter.Close, nil

	case CompressionZSTD:
		zstdWriter, err := zstd.NewWriter(writer)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return zstdWriter, zstdWriter.Close, nil

	default:
		// bzip2 has no writer in the standard library; auto only applies to input
		return nil, nil, configErr("Compression", "unsupported compression type for writing: %v", h.compression)
	}
}

// Extension returns the file extension for this compression type
func (h *compressionHandlerImpl) Extension() string {
	return h.compression.Extension()
}

// canWrite reports whether CreateWriter supports c
func (c Compression) canWrite() bool {
	switch c {
	case CompressionNone, CompressionGZ, CompressionXZ, CompressionZSTD:
		return true
	default:
		return false
	}
}
