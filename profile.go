package rowflow

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/nao1215/rowflow/domain/model"
)

// TransformRegistry resolves the transform names used by profiles
type TransformRegistry map[string]TransformFunc

// DefaultTransforms returns the built-in transforms:
//
//	trim, uppercase, lowercase, title_case, normalize_whitespace,
//	extract_digits, remove_leading_zeros, to_number, to_boolean, to_date
func DefaultTransforms() TransformRegistry {
	text := func(fn func(string) string) TransformFunc {
		return func(v Value, _ Row) (Value, error) {
			if v.IsNull() {
				return v, nil
			}
			return StringValue(fn(v.Text())), nil
		}
	}
	return TransformRegistry{
		"trim":                 text(strings.TrimSpace),
		"uppercase":            text(strings.ToUpper),
		"lowercase":            text(strings.ToLower),
		"title_case":           text(func(s string) string { return cases.Title(language.Und).String(s) }),
		"normalize_whitespace": text(func(s string) string { return strings.Join(strings.Fields(s), " ") }),
		"extract_digits": text(func(s string) string {
			return strings.Map(func(r rune) rune {
				if unicode.IsDigit(r) {
					return r
				}
				return -1
			}, s)
		}),
		"remove_leading_zeros": text(func(s string) string {
			trimmed := strings.TrimLeft(s, "0")
			if trimmed == "" && s != "" {
				return "0"
			}
			return trimmed
		}),
		"to_number": func(v Value, _ Row) (Value, error) {
			if v.IsEmpty() || v.Kind() == model.KindNumber {
				return v, nil
			}
			n, ok := parseNumber(strings.TrimSpace(v.Text()))
			if !ok {
				return NullValue(), fmt.Errorf("%q is not a number", v.Text())
			}
			return NumberValue(n), nil
		},
		"to_boolean": func(v Value, _ Row) (Value, error) {
			if v.IsEmpty() || v.Kind() == model.KindBool {
				return v, nil
			}
			b, ok := parseBool(strings.TrimSpace(v.Text()))
			if !ok {
				return NullValue(), fmt.Errorf("%q is not a boolean", v.Text())
			}
			return BoolValue(b), nil
		},
		"to_date": func(v Value, _ Row) (Value, error) {
			if v.IsEmpty() || v.Kind() == model.KindDate {
				return v, nil
			}
			t, ok := model.ParseDatetime(strings.TrimSpace(v.Text()))
			if !ok {
				return NullValue(), fmt.Errorf("%q is not a date", v.Text())
			}
			return DateValue(t), nil
		},
	}
}

// Profile is a declarative import and export configuration
type Profile struct {
	Name   string
	Import ImportOptions
	Export ExportOptions
}

// profileDoc is the YAML layout of a profile
type profileDoc struct {
	Name       string          `yaml:"name"`
	Import     importSection   `yaml:"import"`
	Mapping    []mappingDoc    `yaml:"mapping"`
	Validation []validationDoc `yaml:"validation"`
	Export     exportSection   `yaml:"export"`
}

type importSection struct {
	Format          string   `yaml:"format"`
	Compression     string   `yaml:"compression"`
	Delimiter       string   `yaml:"delimiter"`
	DetectDelimiter bool     `yaml:"detect_delimiter"`
	SampleLines     int      `yaml:"sample_lines"`
	Quote           string   `yaml:"quote"`
	Escape          string   `yaml:"escape"`
	Encoding        string   `yaml:"encoding"`
	Trim            bool     `yaml:"trim"`
	CastNumbers     bool     `yaml:"cast_numbers"`
	CastDates       bool     `yaml:"cast_dates"`
	CastBooleans    bool     `yaml:"cast_booleans"`
	EmptyAsNull     bool     `yaml:"empty_as_null"`
	NoHeader        bool     `yaml:"no_header"`
	Columns         []string `yaml:"columns"`
	Comment         string   `yaml:"comment"`
	MaxRows         int      `yaml:"max_rows"`
	Sheet           string   `yaml:"sheet"`
	KeepUnmapped    bool     `yaml:"keep_unmapped"`
	ErrorStrategy   string   `yaml:"error_strategy"`
	DeduplicateBy   []string `yaml:"deduplicate_by"`
	DryRun          bool     `yaml:"dry_run"`
	BatchSize       int      `yaml:"batch_size"`
	UseTransaction  bool     `yaml:"use_transaction"`
	UpsertKeys      []string `yaml:"upsert_keys"`
	Parallelism     int      `yaml:"parallelism"`
}

type mappingDoc struct {
	Source          string            `yaml:"source"`
	Target          string            `yaml:"target"`
	Strategy        string            `yaml:"strategy"`
	Transform       string            `yaml:"transform"`
	Table           map[string]string `yaml:"table"`
	CaseInsensitive bool              `yaml:"case_insensitive"`
	Default         *string           `yaml:"default"`
	Required        bool              `yaml:"required"`
	Unique          bool              `yaml:"unique"`
}

type validationDoc struct {
	Field     string   `yaml:"field"`
	Type      string   `yaml:"type"`
	Required  bool     `yaml:"required"`
	MinLength *int     `yaml:"min_length"`
	MaxLength *int     `yaml:"max_length"`
	Min       *float64 `yaml:"min"`
	Max       *float64 `yaml:"max"`
	Pattern   string   `yaml:"pattern"`
	Enum      []string `yaml:"enum"`
	Message   string   `yaml:"message"`
}

type exportSection struct {
	Format         string   `yaml:"format"`
	Compression    string   `yaml:"compression"`
	Columns        []string `yaml:"columns"`
	ChunkSize      int      `yaml:"chunk_size"`
	PagesPerSecond float64  `yaml:"pages_per_second"`
	Delimiter      string   `yaml:"delimiter"`
	QuoteAll       bool     `yaml:"quote_all"`
	NoHeader       bool     `yaml:"no_header"`
	BOM            bool     `yaml:"bom"`
}

// LoadProfile parses a YAML profile. Transform rules resolve their function by name in
// transforms, falling back to DefaultTransforms. Unknown keys, unknown strategies and invalid
// options are reported as configuration errors.
func LoadProfile(r io.Reader, transforms TransformRegistry) (*Profile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc profileDoc
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, configErr("Profile", "empty document")
		}
		return nil, configErr("Profile", "%v", err)
	}

	imp, err := doc.importOptions(transforms)
	if err != nil {
		return nil, err
	}
	exp, err := doc.Export.options()
	if err != nil {
		return nil, err
	}

	if err := imp.Validate(); err != nil {
		return nil, err
	}
	if err := exp.Validate(); err != nil {
		return nil, err
	}
	return &Profile{Name: doc.Name, Import: imp, Export: exp}, nil
}

func (d profileDoc) importOptions(transforms TransformRegistry) (ImportOptions, error) {
	s := d.Import
	opts := ImportOptions{
		DetectDelimiter: s.DetectDelimiter,
		SampleLines:     s.SampleLines,
		KeepUnmapped:    s.KeepUnmapped,
		ErrorStrategy:   ErrorStrategy(strings.ToLower(s.ErrorStrategy)),
		DeduplicateBy:   s.DeduplicateBy,
		DryRun:          s.DryRun,
		BatchSize:       s.BatchSize,
		UseTransaction:  s.UseTransaction,
		UpsertKeys:      s.UpsertKeys,
		Parallelism:     s.Parallelism,
		Reader: ReaderConfig{
			Encoding:     s.Encoding,
			Trim:         s.Trim,
			CastNumbers:  s.CastNumbers,
			CastDates:    s.CastDates,
			CastBooleans: s.CastBooleans,
			EmptyAsNull:  s.EmptyAsNull,
			NoHeader:     s.NoHeader,
			Columns:      s.Columns,
			Comment:      s.Comment,
			MaxRows:      s.MaxRows,
			Sheet:        s.Sheet,
		},
	}

	var err error
	if s.Format != "" {
		if opts.Format, err = ParseFormat(s.Format); err != nil {
			return opts, configErr("import.format", "%v", err)
		}
	}
	if s.Compression != "" {
		if opts.Compression, err = ParseCompression(s.Compression); err != nil {
			return opts, configErr("import.compression", "%v", err)
		}
	}
	if opts.Reader.Delimiter, err = singleRune("import.delimiter", s.Delimiter); err != nil {
		return opts, err
	}
	if opts.Reader.Quote, err = singleRune("import.quote", s.Quote); err != nil {
		return opts, err
	}
	if opts.Reader.Escape, err = singleRune("import.escape", s.Escape); err != nil {
		return opts, err
	}

	for i, m := range d.Mapping {
		rule, err := m.rule(transforms)
		if err != nil {
			return opts, fmt.Errorf("mapping %d: %w", i+1, err)
		}
		opts.Mapping = append(opts.Mapping, rule)
	}
	for i, v := range d.Validation {
		rule, err := v.rule()
		if err != nil {
			return opts, fmt.Errorf("validation %d: %w", i+1, err)
		}
		opts.Validation = append(opts.Validation, rule)
	}
	return opts, nil
}

func (m mappingDoc) rule(transforms TransformRegistry) (MappingRule, error) {
	rule := MappingRule{
		Source:   m.Source,
		Target:   m.Target,
		Required: m.Required,
		Unique:   m.Unique,
	}
	if rule.Target == "" {
		rule.Target = m.Source
	}
	if m.Default != nil {
		rule.Default = StringValue(*m.Default)
	}

	switch strings.ToLower(m.Strategy) {
	case "", "exact":
		rule.Strategy = Exact{}
	case "lookup":
		table := make(map[string]Value, len(m.Table))
		for k, v := range m.Table {
			table[k] = StringValue(v)
		}
		rule.Strategy = Lookup{Table: table, CaseInsensitive: m.CaseInsensitive}
	case "transform":
		fn, ok := transforms[m.Transform]
		if !ok {
			fn, ok = DefaultTransforms()[m.Transform]
		}
		if !ok {
			return rule, configErr("Mapping", "unknown transform %q for %q", m.Transform, rule.Target)
		}
		rule.Strategy = Transform{Fn: fn}
	case "computed":
		return rule, configErr("Mapping", "computed rules for %q must be declared in code", rule.Target)
	case "fuzzy":
		return rule, &ConfigError{
			Field:  "Mapping",
			Reason: fmt.Sprintf("fuzzy strategy for %q is not supported, use SuggestMappings and exact rules", rule.Target),
			Err:    ErrUnsupportedStrategy,
		}
	default:
		return rule, configErr("Mapping", "unknown strategy %q for %q", m.Strategy, rule.Target)
	}
	return rule, nil
}

func (v validationDoc) rule() (ValidationRule, error) {
	rule := ValidationRule{
		Field:     v.Field,
		Required:  v.Required,
		MinLength: v.MinLength,
		MaxLength: v.MaxLength,
		Min:       v.Min,
		Max:       v.Max,
		Pattern:   v.Pattern,
		Enum:      v.Enum,
		Message:   v.Message,
	}
	if v.Type != "" {
		t, ok := model.ParseFieldType(v.Type)
		if !ok {
			return rule, configErr("Validation", "field %q: unknown type %q", v.Field, v.Type)
		}
		rule.Type = &t
	}
	return rule, nil
}

func (s exportSection) options() (ExportOptions, error) {
	opts := ExportOptions{
		Columns:        s.Columns,
		ChunkSize:      s.ChunkSize,
		PagesPerSecond: s.PagesPerSecond,
		Writer: WriterConfig{
			QuoteAll: s.QuoteAll,
			NoHeader: s.NoHeader,
			BOM:      s.BOM,
		},
	}

	var err error
	if s.Format != "" {
		if opts.Format, err = ParseFormat(s.Format); err != nil {
			return opts, configErr("export.format", "%v", err)
		}
	}
	if s.Compression != "" {
		if opts.Compression, err = ParseCompression(s.Compression); err != nil {
			return opts, configErr("export.compression", "%v", err)
		}
	}
	if opts.Writer.Delimiter, err = singleRune("export.delimiter", s.Delimiter); err != nil {
		return opts, err
	}
	return opts, nil
}

// singleRune converts a one-character option. "\t" and "tab" name the tab character.
func singleRune(field, s string) (rune, error) {
	switch s {
	case "":
		return 0, nil
	case `\t`, "tab":
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, configErr(field, "must be a single character, got %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}
