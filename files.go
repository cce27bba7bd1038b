package rowflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultSchemaSampleRows is the number of rows ImportFS inspects before creating a sink
const DefaultSchemaSampleRows = 1000

// SinkFactory returns the sink for one file. table is derived from the file name with
// TableName and schema is inferred from the first rows of the file.
type SinkFactory func(ctx context.Context, table string, schema *InferredSchema) (RecordSink, error)

// FileJob is the result of importing one file
type FileJob struct {
	Path  string
	Table string
	Job   *ImportJob
}

// TableName derives a table name from a file path: the compression and format extensions
// are removed, spaces, dashes and dots become underscores, other characters outside
// [A-Za-z0-9_] are dropped, and a leading digit gets a "table_" prefix.
//
//	"data/2024 sales-report.csv.gz" -> "table_2024_sales_report"
func TableName(filePath string) string {
	name := filepath.Base(filepath.ToSlash(filePath))
	lower := strings.ToLower(name)
	for _, c := range []Compression{CompressionGZ, CompressionBZ2, CompressionXZ, CompressionZSTD} {
		if strings.HasSuffix(lower, c.Extension()) {
			name = name[:len(name)-len(c.Extension())]
			break
		}
	}
	name = strings.TrimSuffix(name, filepath.Ext(name))

	var b strings.Builder
	for _, r := range name {
		switch {
		case r == ' ' || r == '-' || r == '.':
			b.WriteByte('_')
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		}
	}

	out := b.String()
	if out == "" {
		return "table"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "table_" + out
	}
	return out
}

// importable reports whether the file name has an extension Import understands
func importable(name string) bool {
	format, _, err := FormatFromPath(name)
	return err == nil && format != FormatXML
}

// CollectFiles expands paths into the importable files they name. Directories are walked
// recursively. Every file is returned once, and a compressed file is dropped when the
// uncompressed file of the same table sits in the same directory. The result is sorted.
func CollectFiles(paths ...string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string

	add := func(p string) error {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("failed to get absolute path for %s: %w", p, err)
		}
		if !seen[abs] {
			seen[abs] = true
			files = append(files, p)
		}
		return nil
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat path %s: %w", p, err)
		}
		if !info.IsDir() {
			if !importable(p) {
				return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, p)
			}
			if err := add(p); err != nil {
				return nil, err
			}
			continue
		}

		err = filepath.WalkDir(p, func(name string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !importable(name) {
				return nil
			}
			return add(name)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk directory %s: %w", p, err)
		}
	}
	return preferUncompressed(files, filepath.Dir), nil
}

// CollectFS returns the importable files of fsys with the same rules as CollectFiles
func CollectFS(fsys fs.FS) ([]string, error) {
	if fsys == nil {
		return nil, configErr("FS", "file system is nil")
	}
	var files []string
	err := fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && importable(name) {
			files = append(files, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk file system: %w", err)
	}
	return preferUncompressed(files, path.Dir), nil
}

// preferUncompressed removes compressed files shadowed by an uncompressed sibling
func preferUncompressed(files []string, dir func(string) string) []string {
	key := func(f string) string { return dir(f) + "\x00" + TableName(f) }

	plain := make(map[string]bool, len(files))
	for _, f := range files {
		if _, c, _ := FormatFromPath(f); c == CompressionNone {
			plain[key(f)] = true
		}
	}

	out := files[:0]
	for _, f := range files {
		if _, c, _ := FormatFromPath(f); c != CompressionNone && plain[key(f)] {
			continue
		}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// withFileFormat returns opts with the format and compression taken from name
func withFileFormat(opts ImportOptions, name string) (ImportOptions, error) {
	format, compression, err := FormatFromPath(name)
	if err != nil {
		return opts, err
	}
	if format == FormatXML {
		return opts, fmt.Errorf("%w: %s cannot be imported", ErrUnsupportedFormat, name)
	}
	opts.Format = format
	opts.Compression = compression
	return opts, nil
}

// ImportFile imports the file at name into sink. The format and compression come from the
// file name and override opts.
func ImportFile(ctx context.Context, name string, sink RecordSink, opts ImportOptions) (*ImportJob, error) {
	opts, err := withFileFormat(opts, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Clean(name))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return Import(ctx, f, sink, opts)
}

// ImportFiles imports every file CollectFiles finds under paths. See ImportFS.
func ImportFiles(ctx context.Context, paths []string, sinkFor SinkFactory, opts ImportOptions) ([]FileJob, error) {
	files, err := CollectFiles(paths...)
	if err != nil {
		return nil, err
	}
	return importEach(ctx, files, func(name string) (fs.File, error) {
		return os.Open(filepath.Clean(name))
	}, sinkFor, opts)
}

// ImportFS imports every importable file of fsys into the sink sinkFor returns for it.
// The schema handed to sinkFor is inferred from the first DefaultSchemaSampleRows rows.
// Files are imported one after another in name order. Under ErrorStrategyAbort the first
// failed file stops the run; otherwise every file is attempted and the errors are joined.
func ImportFS(ctx context.Context, fsys fs.FS, sinkFor SinkFactory, opts ImportOptions) ([]FileJob, error) {
	files, err := CollectFS(fsys)
	if err != nil {
		return nil, err
	}
	return importEach(ctx, files, fsys.Open, sinkFor, opts)
}

func importEach(ctx context.Context, files []string, open func(string) (fs.File, error), sinkFor SinkFactory, opts ImportOptions) ([]FileJob, error) {
	if sinkFor == nil {
		return nil, configErr("SinkFactory", "a sink factory is required")
	}
	if len(files) == 0 {
		return nil, ErrEmptyData
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	strategy := opts.normalize().ErrorStrategy

	var (
		jobs []FileJob
		errs []error
	)
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return jobs, errors.Join(append(errs, err)...)
		}

		job, err := importOne(ctx, name, open, sinkFor, opts)
		if job != nil {
			jobs = append(jobs, FileJob{Path: name, Table: TableName(name), Job: job})
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			if strategy == ErrorStrategyAbort {
				break
			}
		}
	}
	return jobs, errors.Join(errs...)
}

func importOne(ctx context.Context, name string, open func(string) (fs.File, error), sinkFor SinkFactory, opts ImportOptions) (*ImportJob, error) {
	opts, err := withFileFormat(opts, name)
	if err != nil {
		return nil, err
	}

	f, err := open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open: %w", err)
	}
	schema, err := sampleSchema(ctx, f, opts)
	if err != nil {
		return nil, err
	}

	sink, err := sinkFor(ctx, TableName(name), &schema)
	if err != nil {
		return nil, fmt.Errorf("failed to create sink: %w", err)
	}

	if f, err = open(name); err != nil {
		return nil, fmt.Errorf("failed to open: %w", err)
	}
	return Import(ctx, f, sink, opts)
}

// sampleSchema infers the schema of the first rows of src and closes it
func sampleSchema(ctx context.Context, src io.ReadCloser, opts ImportOptions) (_ InferredSchema, err error) {
	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()
	opts = opts.normalize()

	in, closeDecoder, err := NewCompressionHandler(opts.Compression).CreateReader(src)
	if err != nil {
		return InferredSchema{}, err
	}
	defer func() {
		if closeErr := closeDecoder(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	cfg := opts.Reader
	if opts.DetectDelimiter && opts.Format.delimited() {
		detection, replay, err := SniffDelimiter(in, opts.SampleLines)
		if err != nil {
			return InferredSchema{}, err
		}
		cfg.Delimiter = detection.Delimiter
		in = replay
	}

	rows, err := NewRowReader(ctx, opts.Format, struct{ io.Reader }{in}, cfg)
	if err != nil {
		return InferredSchema{}, err
	}
	return InferSchemaFrom(rows, InferOptions{MaxRows: DefaultSchemaSampleRows})
}
