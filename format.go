package rowflow

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format represents a tabular file format
type Format int

const (
	// FormatCSV represents comma separated values
	FormatCSV Format = iota
	// FormatTSV represents tab separated values
	FormatTSV
	// FormatJSON represents a JSON array of objects
	FormatJSON
	// FormatNDJSON represents one JSON object per line
	FormatNDJSON
	// FormatXLSX represents an Excel workbook
	FormatXLSX
	// FormatParquet represents Apache Parquet
	FormatParquet
	// FormatXML represents an XML document (export only)
	FormatXML
)

const (
	extCSV     = ".csv"
	extTSV     = ".tsv"
	extJSON    = ".json"
	extNDJSON  = ".ndjson"
	extJSONL   = ".jsonl"
	extXLSX    = ".xlsx"
	extParquet = ".parquet"
	extXML     = ".xml"
	extGZ      = ".gz"
	extBZ2     = ".bz2"
	extXZ      = ".xz"
	extZSTD    = ".zst"
)

// String returns the string representation of Format
func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatTSV:
		return "tsv"
	case FormatJSON:
		return "json"
	case FormatNDJSON:
		return "ndjson"
	case FormatXLSX:
		return "xlsx"
	case FormatParquet:
		return "parquet"
	case FormatXML:
		return "xml"
	default:
		return "csv"
	}
}

// Extension returns the file extension for the format
func (f Format) Extension() string {
	switch f {
	case FormatCSV:
		return extCSV
	case FormatTSV:
		return extTSV
	case FormatJSON:
		return extJSON
	case FormatNDJSON:
		return extNDJSON
	case FormatXLSX:
		return extXLSX
	case FormatParquet:
		return extParquet
	case FormatXML:
		return extXML
	default:
		return extCSV
	}
}

// ParseFormat converts a format name to a Format
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "", "csv":
		return FormatCSV, nil
	case "tsv":
		return FormatTSV, nil
	case "json":
		return FormatJSON, nil
	case "ndjson", "jsonl":
		return FormatNDJSON, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	case "parquet":
		return FormatParquet, nil
	case "xml":
		return FormatXML, nil
	default:
		return FormatCSV, fmt.Errorf("%w: %s", ErrUnsupportedFormat, s)
	}
}

// delimited reports whether the format is parsed by the line tokenizer
func (f Format) delimited() bool {
	return f == FormatCSV || f == FormatTSV
}

// Compression represents a stream compression type
type Compression int

const (
	// CompressionNone represents no compression
	CompressionNone Compression = iota
	// CompressionGZ represents gzip compression
	CompressionGZ
	// CompressionBZ2 represents bzip2 compression
	CompressionBZ2
	// CompressionXZ represents xz compression
	CompressionXZ
	// CompressionZSTD represents zstd compression
	CompressionZSTD
	// CompressionAuto detects the compression of an input stream from its magic bytes
	CompressionAuto
)

// String returns the string representation of Compression
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGZ:
		return "gz"
	case CompressionBZ2:
		return "bz2"
	case CompressionXZ:
		return "xz"
	case CompressionZSTD:
		return "zstd"
	case CompressionAuto:
		return "auto"
	default:
		return "none"
	}
}

// Extension returns the file extension for the compression type
func (c Compression) Extension() string {
	switch c {
	case CompressionGZ:
		return extGZ
	case CompressionBZ2:
		return extBZ2
	case CompressionXZ:
		return extXZ
	case CompressionZSTD:
		return extZSTD
	default:
		return ""
	}
}

// ParseCompression converts a compression name to a Compression
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "", "none":
		return CompressionNone, nil
	case "gz", "gzip":
		return CompressionGZ, nil
	case "bz2", "bzip2":
		return CompressionBZ2, nil
	case "xz":
		return CompressionXZ, nil
	case "zst", "zstd":
		return CompressionZSTD, nil
	case "auto":
		return CompressionAuto, nil
	default:
		return CompressionNone, fmt.Errorf("%w: unknown compression %q", ErrConfiguration, s)
	}
}

// FormatFromPath detects the format and compression of a file from its name,
// e.g. "orders.csv.gz" is FormatCSV with CompressionGZ.
func FormatFromPath(path string) (Format, Compression, error) {
	base := strings.ToLower(filepath.Base(path))
	compression := CompressionNone

	for _, c := range []Compression{CompressionGZ, CompressionBZ2, CompressionXZ, CompressionZSTD} {
		if strings.HasSuffix(base, c.Extension()) {
			base = strings.TrimSuffix(base, c.Extension())
			compression = c
			break
		}
	}

	switch filepath.Ext(base) {
	case extCSV:
		return FormatCSV, compression, nil
	case extTSV:
		return FormatTSV, compression, nil
	case extJSON:
		return FormatJSON, compression, nil
	case extNDJSON, extJSONL:
		return FormatNDJSON, compression, nil
	case extXLSX:
		return FormatXLSX, compression, nil
	case extParquet:
		return FormatParquet, compression, nil
	case extXML:
		return FormatXML, compression, nil
	default:
		return FormatCSV, compression, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// FileName returns base with the extension of the format and compression appended
func FileName(base string, format Format, compression Compression) string {
	return base + format.Extension() + compression.Extension()
}
