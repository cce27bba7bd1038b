// Package rowflow moves tabular data between files and record stores.
//
// rowflow reads CSV, TSV, JSON, NDJSON, Excel (XLSX) and Parquet into ordered rows of
// typed values, maps and validates them, and persists them in batches into any record
// sink. In the other direction it streams records page by page from a record source
// into CSV, TSV, JSON, NDJSON, XLSX, Parquet or XML.
//
// # Features
//
//   - Streaming readers and writers with configurable delimiter, quote, escape, header and BOM
//   - Delimiter detection with a confidence score
//   - Automatic handling of compressed input (gzip, bzip2, xz, zstandard)
//   - Schema inference and column mapping suggestions
//   - Declarative mapping (exact, transform, computed, lookup) and validation rules
//   - Batched, optionally transactional persistence with upsert and deduplication
//   - Progress, status and row error events through an Observer
//   - YAML profiles for repeatable jobs
//
// # Importing
//
//	f, err := os.Open("customers.csv")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	opts := rowflow.NewImportOptions().
//	    WithDelimiterDetection(10).
//	    WithValidation(rowflow.ValidationRule{Field: "email", Type: rowflow.Ptr(rowflow.TypeEmail), Required: true}).
//	    WithUpsertKeys("id")
//
//	job, err := rowflow.Import(ctx, f, store, opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(job.Summary)
//
// Import always returns the job summary, also when it fails, so that partial results
// and every row error can be inspected.
//
// # Exporting
//
//	out, err := os.Create("customers.json.gz")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	task, err := rowflow.Export(ctx, store, out, rowflow.NewExportOptions().
//	    WithFormat(rowflow.FormatJSON).
//	    WithCompression(rowflow.CompressionGZ))
//
// # Record stores
//
// Imports write to a RecordSink and exports read from a RecordSource. The store
// subpackages provide SQLite (store/sqlitestore) and PostgreSQL (store/pgstore)
// implementations; any type implementing the interfaces works.
//
// # Error Handling
//
// Errors follow a small taxonomy that can be tested with errors.Is:
//   - ErrParse: malformed input, always fatal
//   - ErrConfiguration: invalid options, reported before any I/O
//   - ErrValidation: rule violations under the abort strategy
//   - ErrPersistence: sink rejections under the abort strategy
//
// Row-level problems are collected in ImportJob.Errors with their row number and raw row.
package rowflow
