package rowflow_test

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/nao1215/rowflow"
	"github.com/nao1215/rowflow/store/sqlitestore"
)

// openCustomers returns an in-memory SQLite store with a customers table
func openCustomers(ctx context.Context) *sqlitestore.Store {
	store, err := sqlitestore.Open(ctx, ":memory:", "customers")
	if err != nil {
		log.Fatal(err)
	}
	schema := rowflow.InferredSchema{Fields: []rowflow.FieldSchema{
		{Name: "id", Type: rowflow.TypeNumber},
		{Name: "name", Type: rowflow.TypeString},
		{Name: "email", Type: rowflow.TypeEmail, Nullable: true},
	}}
	if err := store.EnsureTable(ctx, &schema, []string{"id"}); err != nil {
		log.Fatal(err)
	}
	return store
}

// ExampleImport loads a CSV document into SQLite. Rows that fail validation are reported
// in the job and never reach the database.
func ExampleImport() {
	ctx := context.Background()
	store := openCustomers(ctx)
	defer store.Close()

	input := strings.NewReader(`id,name,email
1,Alice,alice@example.com
2,Bob,not-an-email
3,Carol,carol@example.com
`)

	opts := rowflow.NewImportOptions().
		WithReader(rowflow.ReaderConfig{CastNumbers: true, Trim: true}).
		WithValidation(rowflow.ValidationRule{Field: "email", Type: rowflow.Ptr(rowflow.TypeEmail)}).
		WithTransaction(true)

	job, err := rowflow.Import(ctx, input, store, opts)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(job.Summary)
	for _, e := range job.Errors {
		fmt.Printf("row %d: %s %s\n", e.Row, e.Field, e.Code)
	}

	// Output:
	// partial: 2 of 3 rows imported, 0 failed, 1 invalid, 0 skipped
	// row 2: email TYPE
}

// ExampleExport streams records from SQLite as JSON
func ExampleExport() {
	ctx := context.Background()
	store := openCustomers(ctx)
	defer store.Close()

	seed := strings.NewReader("id,name,email\n1,Alice,alice@example.com\n2,Bob,\n")
	_, err := rowflow.Import(ctx, seed, store, rowflow.NewImportOptions().
		WithReader(rowflow.ReaderConfig{CastNumbers: true, EmptyAsNull: true}))
	if err != nil {
		log.Fatal(err)
	}

	var out bytes.Buffer
	task, err := rowflow.Export(ctx, store, &out, rowflow.NewExportOptions().
		WithFormat(rowflow.FormatJSON).
		WithChunkSize(1))
	if err != nil {
		log.Fatal(err)
	}

	fmt.Print(out.String())
	fmt.Println(task.Status, task.ExportedRows)

	// Output:
	// [
	// {"id":1,"name":"Alice","email":"alice@example.com"},
	// {"id":2,"name":"Bob","email":null}
	// ]
	// completed 2
}

// ExampleDetectDelimiter picks the separator of an unknown delimited file
func ExampleDetectDelimiter() {
	sample := "id;name;city\n1;Alice;Tokyo\n2;Bob;Osaka\n3;Carol;Kyoto\n"

	detection, err := rowflow.DetectDelimiter(strings.NewReader(sample), 10)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%q with %d columns\n", detection.Delimiter, detection.Columns)

	// Output:
	// ';' with 3 columns
}

// ExampleInferSchema derives column types from parsed rows
func ExampleInferSchema() {
	ctx := context.Background()
	input := "id,email,active,joined\n1,a@example.com,true,2024-01-05\n2,b@example.com,false,2024-02-11\n"

	r, err := rowflow.NewRowReader(ctx, rowflow.FormatCSV, strings.NewReader(input), rowflow.ReaderConfig{})
	if err != nil {
		log.Fatal(err)
	}
	schema, err := rowflow.InferSchemaFrom(r, rowflow.InferOptions{})
	if err != nil {
		log.Fatal(err)
	}

	for _, f := range schema.Fields {
		fmt.Printf("%s: %s\n", f.Name, f.Type)
	}

	// Output:
	// id: number
	// email: email
	// active: boolean
	// joined: date
}

// ExampleSuggestMappings proposes mapping rules between differently named columns
func ExampleSuggestMappings() {
	source := []string{"Customer ID", "E-Mail", "favourite colour"}
	target := []string{"customer_id", "email", "name"}

	for _, s := range rowflow.SuggestMappings(source, target, 0) {
		fmt.Printf("%s -> %s\n", s.Source, s.Target)
	}

	// Output:
	// Customer ID -> customer_id
	// E-Mail -> email
}

// ExampleLoadProfile reads an import configuration from YAML
func ExampleLoadProfile() {
	doc := `
name: nightly-customers
import:
  format: csv
  delimiter: ";"
  error_strategy: abort
  upsert_keys: [id]
mapping:
  - source: Mail
    target: email
    strategy: transform
    transform: lowercase
validation:
  - field: email
    type: email
    required: true
`
	profile, err := rowflow.LoadProfile(strings.NewReader(doc), nil)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(profile.Name)
	fmt.Println(profile.Import.ErrorStrategy, string(profile.Import.Reader.Delimiter))
	fmt.Println(len(profile.Import.Mapping), len(profile.Import.Validation))

	// Output:
	// nightly-customers
	// abort ;
	// 1 1
}
