package rowflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nao1215/rowflow/domain/model"
)

// errLookupMiss marks a lookup key absent from the table
var errLookupMiss = errors.New("lookup miss")

// Strategy decides how a mapping rule derives its target value.
// It is implemented by Exact, Transform, Computed and Lookup only.
type Strategy interface {
	// Name returns the strategy name used in configuration files
	Name() string
	validate(rule MappingRule) error
	apply(src Value, row Row) (Value, error)
}

// TransformFunc converts a source value. row is the complete source row.
type TransformFunc func(v Value, row Row) (Value, error)

// ComputeFunc derives a value from several source columns
type ComputeFunc func(values []Value, row Row) (Value, error)

// Exact copies the source value verbatim
type Exact struct{}

// Name implements Strategy
func (Exact) Name() string { return "exact" }

func (Exact) validate(rule MappingRule) error {
	if rule.Source == "" {
		return configErr("Mapping", "exact rule for %q needs a source column", rule.Target)
	}
	return nil
}

func (Exact) apply(src Value, _ Row) (Value, error) { return src, nil }

// Transform applies Fn to the source value
type Transform struct {
	Fn TransformFunc
}

// Name implements Strategy
func (Transform) Name() string { return "transform" }

func (s Transform) validate(rule MappingRule) error {
	if rule.Source == "" {
		return configErr("Mapping", "transform rule for %q needs a source column", rule.Target)
	}
	if s.Fn == nil {
		return configErr("Mapping", "transform rule for %q has no function", rule.Target)
	}
	return nil
}

func (s Transform) apply(src Value, row Row) (v Value, err error) {
	defer recoverInto(&err)
	return s.Fn(src, row)
}

// Computed applies Fn to the values of the From columns, in order
type Computed struct {
	From []string
	Fn   ComputeFunc
}

// Name implements Strategy
func (Computed) Name() string { return "computed" }

func (s Computed) validate(rule MappingRule) error {
	if len(s.From) == 0 {
		return configErr("Mapping", "computed rule for %q has no input columns", rule.Target)
	}
	if s.Fn == nil {
		return configErr("Mapping", "computed rule for %q has no function", rule.Target)
	}
	return nil
}

func (s Computed) apply(_ Value, row Row) (v Value, err error) {
	defer recoverInto(&err)
	values := make([]Value, len(s.From))
	for i, name := range s.From {
		values[i], _ = row.Get(name)
	}
	return s.Fn(values, row)
}

// Lookup resolves the text of the source value in Table
type Lookup struct {
	Table           map[string]Value
	CaseInsensitive bool
}

// Name implements Strategy
func (Lookup) Name() string { return "lookup" }

func (s Lookup) validate(rule MappingRule) error {
	if rule.Source == "" {
		return configErr("Mapping", "lookup rule for %q needs a source column", rule.Target)
	}
	if s.Table == nil {
		return configErr("Mapping", "lookup rule for %q has no table", rule.Target)
	}
	return nil
}

func (s Lookup) apply(src Value, _ Row) (Value, error) {
	key := src.Text()
	if v, ok := s.Table[key]; ok {
		return v, nil
	}
	if s.CaseInsensitive {
		for k, v := range s.Table {
			if strings.EqualFold(k, key) {
				return v, nil
			}
		}
	}
	return NullValue(), errLookupMiss
}

func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("panic: %v", r)
	}
}

// MappingRule maps one target column. A null Default means no default.
type MappingRule struct {
	Source   string
	Target   string
	Strategy Strategy
	Default  Value
	Required bool
	Unique   bool
	// Check reports a problem with the mapped value. Failures are warnings only.
	Check func(Value) error
}

// MapperOption configures a Mapper
type MapperOption func(*Mapper)

// WithKeepUnmapped copies source columns that no rule consumed into the mapped row
func WithKeepUnmapped() MapperOption {
	return func(m *Mapper) {
		m.keepUnmapped = true
	}
}

// Mapper applies mapping rules to rows. It remembers values of Unique targets across rows,
// so one Mapper serves one data set and is not safe for concurrent use.
type Mapper struct {
	rules        []MappingRule
	keepUnmapped bool
	seen         map[string]map[string]int
}

// NewMapper validates rules and returns a Mapper
func NewMapper(rules []MappingRule, opts ...MapperOption) (*Mapper, error) {
	if err := ValidateMappingRules(rules); err != nil {
		return nil, err
	}
	m := &Mapper{rules: rules, seen: make(map[string]map[string]int)}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ValidateMappingRules reports the first invalid rule
func ValidateMappingRules(rules []MappingRule) error {
	targets := make(map[string]struct{}, len(rules))
	for _, rule := range rules {
		if rule.Target == "" {
			return configErr("Mapping", "rule for source %q has no target", rule.Source)
		}
		if rule.Strategy == nil {
			return configErr("Mapping", "rule for %q has no strategy", rule.Target)
		}
		if err := rule.Strategy.validate(rule); err != nil {
			return err
		}
		if _, dup := targets[rule.Target]; dup {
			return configErr("Mapping", "target %q is mapped twice", rule.Target)
		}
		targets[rule.Target] = struct{}{}
	}
	return nil
}

// MapRow maps one row. n is the 1-based row number used in warnings.
func (m *Mapper) MapRow(row Row, n int) (Row, []MappingWarning) {
	var warnings []MappingWarning
	warn := func(rule MappingRule, v Value, format string, args ...any) {
		warnings = append(warnings, MappingWarning{
			Row:     n,
			Source:  rule.Source,
			Target:  rule.Target,
			Value:   v,
			Message: fmt.Sprintf(format, args...),
		})
	}

	b := model.NewRowBuilder(len(m.rules))
	used := make(map[string]struct{}, len(m.rules))

	for _, rule := range m.rules {
		src, present := row.Get(rule.Source)
		if computed, ok := rule.Strategy.(Computed); ok {
			present = true
			for _, name := range computed.From {
				used[name] = struct{}{}
			}
		}
		if rule.Source != "" {
			used[rule.Source] = struct{}{}
		}

		v, err := rule.Strategy.apply(src, row)
		switch {
		case errors.Is(err, errLookupMiss):
			v = rule.Default
		case err != nil:
			warn(rule, src, "%s failed: %v", rule.Strategy.Name(), err)
			if rule.Default.IsNull() && !rule.Required {
				continue
			}
			v = rule.Default
		}

		if v.IsEmpty() {
			switch {
			case rule.Required && !rule.Default.IsNull():
				warn(rule, v, "required value missing, default %q used", rule.Default.Text())
				v = rule.Default
			case rule.Required:
				warn(rule, v, "required value missing, field omitted")
				continue
			case v.IsNull() && !rule.Default.IsNull():
				v = rule.Default
			case v.IsNull() && !present:
				continue
			}
		}

		if rule.Check != nil {
			if err := rule.Check(v); err != nil {
				warn(rule, v, "check failed: %v", err)
			}
		}
		if rule.Unique && !v.IsNull() {
			seen := m.seen[rule.Target]
			if seen == nil {
				seen = make(map[string]int)
				m.seen[rule.Target] = seen
			}
			key := v.Text()
			if first, dup := seen[key]; dup {
				warn(rule, v, "duplicate value %q, first seen in row %d", key, first)
			} else {
				seen[key] = n
			}
		}

		b.Set(rule.Target, v)
	}

	if m.keepUnmapped {
		for _, f := range row.Fields() {
			if _, ok := used[f.Name]; ok || b.Has(f.Name) {
				continue
			}
			b.Set(f.Name, f.Value)
		}
	}
	return b.Build(), warnings
}

// Map maps every row. Row numbers start at 1.
func (m *Mapper) Map(rows []Row) ([]Row, []MappingWarning) {
	out := make([]Row, len(rows))
	var warnings []MappingWarning
	for i, row := range rows {
		mapped, w := m.MapRow(row, i+1)
		out[i] = mapped
		warnings = append(warnings, w...)
	}
	return out, warnings
}
