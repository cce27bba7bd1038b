package rowflow

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/nao1215/rowflow/domain/model"
)

// Field types accepted by ValidationRule.Type
const (
	TypeString  = model.FieldTypeString
	TypeNumber  = model.FieldTypeNumber
	TypeBoolean = model.FieldTypeBoolean
	TypeDate    = model.FieldTypeDate
	TypeEmail   = model.FieldTypeEmail
	TypeUUID    = model.FieldTypeUUID
)

// ValidationRule declares the constraints of one field. A field may have several rules.
type ValidationRule struct {
	Field    string
	Type     *FieldType
	Required bool

	MinLength *int
	MaxLength *int
	Min       *float64
	Max       *float64

	// Pattern is a regular expression the text of the value must match
	Pattern string
	// Enum lists the accepted texts
	Enum []string
	// Custom returns a non-nil error to reject the value; a non-empty error text replaces Message.
	Custom func(v Value, row Row) error
	// Message overrides the generated message
	Message string
}

// Ptr returns a pointer to v, for the optional fields of ValidationRule
func Ptr[T any](v T) *T {
	return &v
}

// ValidationResult lists every violation found
type ValidationResult struct {
	IsValid     bool
	Errors      []ImportError
	InvalidRows int
}

type compiledRule struct {
	ValidationRule
	pattern *regexp.Regexp
}

// Validator evaluates validation rules against rows
type Validator struct {
	rules []compiledRule
}

// NewValidator compiles rules
func NewValidator(rules []ValidationRule) (*Validator, error) {
	compiled := make([]compiledRule, len(rules))
	for i, rule := range rules {
		if rule.Field == "" {
			return nil, configErr("Validation", "rule %d has no field", i+1)
		}
		if rule.MinLength != nil && rule.MaxLength != nil && *rule.MinLength > *rule.MaxLength {
			return nil, configErr("Validation", "field %q: min length %d exceeds max length %d", rule.Field, *rule.MinLength, *rule.MaxLength)
		}
		if rule.Min != nil && rule.Max != nil && *rule.Min > *rule.Max {
			return nil, configErr("Validation", "field %q: min %v exceeds max %v", rule.Field, *rule.Min, *rule.Max)
		}
		compiled[i] = compiledRule{ValidationRule: rule}
		if rule.Pattern != "" {
			re, err := regexp.Compile(rule.Pattern)
			if err != nil {
				return nil, configErr("Validation", "field %q: invalid pattern: %v", rule.Field, err)
			}
			compiled[i].pattern = re
		}
	}
	return &Validator{rules: compiled}, nil
}

// Validate checks every rule against every row. Row numbers start at 1.
func (v *Validator) Validate(rows []Row) ValidationResult {
	result := ValidationResult{IsValid: true}
	for i, row := range rows {
		errs := v.ValidateRow(row, i+1)
		if len(errs) > 0 {
			result.IsValid = false
			result.InvalidRows++
			result.Errors = append(result.Errors, errs...)
		}
	}
	return result
}

// ValidateRow returns one ImportError per violation. Checks run in the order
// required, type, length and range (only when the type holds), pattern and enum, custom.
func (v *Validator) ValidateRow(row Row, n int) []ImportError {
	var errs []ImportError
	for _, rule := range v.rules {
		errs = append(errs, rule.check(row, n)...)
	}
	return errs
}

func (r compiledRule) check(row Row, n int) []ImportError {
	var errs []ImportError
	value, _ := row.Get(r.Field)
	fail := func(code model.ErrorCode, format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		if r.Message != "" {
			msg = r.Message
		}
		errs = append(errs, r.newError(row, n, value, code, msg))
	}

	if value.IsEmpty() {
		if r.Required {
			fail(model.CodeRequired, "%s is required", r.Field)
		}
		return errs
	}

	typeOK := true
	if r.Type != nil && !conforms(value, *r.Type) {
		typeOK = false
		fail(model.CodeType, "%s must be of type %s", r.Field, *r.Type)
	}

	if typeOK {
		if r.MinLength != nil || r.MaxLength != nil {
			length := utf8.RuneCountInString(value.Text())
			if r.MinLength != nil && length < *r.MinLength {
				fail(model.CodeMinLength, "%s must be at least %d characters", r.Field, *r.MinLength)
			}
			if r.MaxLength != nil && length > *r.MaxLength {
				fail(model.CodeMaxLength, "%s must be at most %d characters", r.Field, *r.MaxLength)
			}
		}
		if r.Min != nil || r.Max != nil {
			if num, ok := numericValue(value); ok {
				if r.Min != nil && num < *r.Min {
					fail(model.CodeMin, "%s must be at least %v", r.Field, *r.Min)
				}
				if r.Max != nil && num > *r.Max {
					fail(model.CodeMax, "%s must be at most %v", r.Field, *r.Max)
				}
			}
		}
	}

	if r.pattern != nil && !r.pattern.MatchString(value.Text()) {
		fail(model.CodePattern, "%s does not match %s", r.Field, r.Pattern)
	}
	if len(r.Enum) > 0 && !slices.Contains(r.Enum, value.Text()) {
		fail(model.CodeEnum, "%s must be one of %s", r.Field, strings.Join(r.Enum, ", "))
	}

	if r.Custom != nil {
		if err := r.customCheck(value, row); err != nil {
			msg := err.Error()
			if msg == "" {
				msg = r.Message
			}
			if msg == "" {
				msg = r.Field + " is invalid"
			}
			errs = append(errs, r.newError(row, n, value, model.CodeCustom, msg))
		}
	}
	return errs
}

func (r compiledRule) customCheck(value Value, row Row) (err error) {
	defer recoverInto(&err)
	return r.Custom(value, row)
}

func (r compiledRule) newError(row Row, n int, value Value, code model.ErrorCode, msg string) ImportError {
	return ImportError{
		Row:         n,
		Field:       r.Field,
		Value:       value,
		Code:        code,
		Message:     msg,
		Severity:    model.SeverityError,
		Recoverable: false,
		Raw:         row,
	}
}

// conforms reports whether v holds, or textually encodes, a value of type t
func conforms(v Value, t FieldType) bool {
	switch t {
	case model.FieldTypeString:
		return v.Kind() == model.KindString
	case model.FieldTypeNumber:
		_, ok := numericValue(v)
		return ok
	case model.FieldTypeBoolean:
		if v.Kind() == model.KindBool {
			return true
		}
		_, ok := parseBool(v.Text())
		return v.Kind() == model.KindString && ok
	case model.FieldTypeDate:
		return v.Kind() == model.KindDate || (v.Kind() == model.KindString && model.IsDatetime(v.Text()))
	case model.FieldTypeEmail:
		return v.Kind() == model.KindString && emailPattern.MatchString(v.Text())
	case model.FieldTypeUUID:
		return v.Kind() == model.KindString && isUUID(v.Text())
	default:
		return true
	}
}

// numericValue returns the number held or encoded by v
func numericValue(v Value) (float64, bool) {
	if n, ok := v.AsNumber(); ok {
		return n, true
	}
	if s, ok := v.AsString(); ok {
		return parseNumber(s)
	}
	return 0, false
}
