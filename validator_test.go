package rowflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/rowflow/domain/model"
)

func codes(errs []ImportError) []model.ErrorCode {
	out := make([]model.ErrorCode, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidatorChecks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		rule  ValidationRule
		value Value
		want  []model.ErrorCode
	}{
		{"required empty", ValidationRule{Field: "f", Required: true}, StringValue(""), []model.ErrorCode{model.CodeRequired}},
		{"optional empty skips the rest", ValidationRule{Field: "f", Type: Ptr(TypeNumber), Pattern: "^x$"}, NullValue(), []model.ErrorCode{}},
		{"number text conforms", ValidationRule{Field: "f", Type: Ptr(TypeNumber), Min: Ptr(1.0), Max: Ptr(10.0)}, StringValue("5"), []model.ErrorCode{}},
		{"below min", ValidationRule{Field: "f", Min: Ptr(1.0)}, NumberValue(0), []model.ErrorCode{model.CodeMin}},
		{"above max", ValidationRule{Field: "f", Max: Ptr(1.0)}, NumberValue(2), []model.ErrorCode{model.CodeMax}},
		{"type mismatch skips range", ValidationRule{Field: "f", Type: Ptr(TypeNumber), Min: Ptr(1.0)}, StringValue("abc"), []model.ErrorCode{model.CodeType}},
		{"type mismatch still checks pattern", ValidationRule{Field: "f", Type: Ptr(TypeNumber), Pattern: `^\d+$`}, StringValue("abc"), []model.ErrorCode{model.CodeType, model.CodePattern}},
		{"length", ValidationRule{Field: "f", MinLength: Ptr(3), MaxLength: Ptr(4)}, StringValue("日本"), []model.ErrorCode{model.CodeMinLength}},
		{"too long", ValidationRule{Field: "f", MaxLength: Ptr(2)}, StringValue("abc"), []model.ErrorCode{model.CodeMaxLength}},
		{"enum", ValidationRule{Field: "f", Enum: []string{"a", "b"}}, StringValue("c"), []model.ErrorCode{model.CodeEnum}},
		{"email", ValidationRule{Field: "f", Type: Ptr(TypeEmail)}, StringValue("not-an-email"), []model.ErrorCode{model.CodeType}},
		{"valid email", ValidationRule{Field: "f", Type: Ptr(TypeEmail)}, StringValue("a@example.com"), []model.ErrorCode{}},
		{"uuid", ValidationRule{Field: "f", Type: Ptr(TypeUUID)}, StringValue("6ba7b810-9dad-11d1-80b4-00c04fd430c8"), []model.ErrorCode{}},
		{"boolean text", ValidationRule{Field: "f", Type: Ptr(TypeBoolean)}, StringValue("TRUE"), []model.ErrorCode{}},
		{"date", ValidationRule{Field: "f", Type: Ptr(TypeDate)}, StringValue("2024-13-45"), []model.ErrorCode{model.CodeType}},
		{"string rejects numbers", ValidationRule{Field: "f", Type: Ptr(TypeString)}, NumberValue(1), []model.ErrorCode{model.CodeType}},
		{"custom", ValidationRule{Field: "f", Custom: func(Value, Row) error { return errors.New("custom says no") }}, StringValue("x"), []model.ErrorCode{model.CodeCustom}},
		{"custom panic", ValidationRule{Field: "f", Custom: func(Value, Row) error { panic("boom") }}, StringValue("x"), []model.ErrorCode{model.CodeCustom}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v, err := NewValidator([]ValidationRule{tt.rule})
			require.NoError(t, err)
			errs := v.ValidateRow(NewRow(Field{Name: "f", Value: tt.value}), 4)
			assert.Equal(t, tt.want, codes(errs))
			for _, e := range errs {
				assert.Equal(t, 4, e.Row)
				assert.Equal(t, "f", e.Field)
				assert.Equal(t, model.SeverityError, e.Severity)
				assert.NotEmpty(t, e.Message)
			}
		})
	}
}

func TestValidatorMessageOverride(t *testing.T) {
	t.Parallel()

	v, err := NewValidator([]ValidationRule{{Field: "age", Min: Ptr(18.0), Message: "adults only"}})
	require.NoError(t, err)
	errs := v.ValidateRow(NewRow(Field{Name: "age", Value: NumberValue(3)}), 1)
	require.Len(t, errs, 1)
	assert.Equal(t, "adults only", errs[0].Message)
}

func TestValidatorValidate(t *testing.T) {
	t.Parallel()

	v, err := NewValidator([]ValidationRule{
		{Field: "id", Required: true, Type: Ptr(TypeNumber)},
		{Field: "email", Type: Ptr(TypeEmail)},
	})
	require.NoError(t, err)

	rows := []Row{
		NewRow(Field{Name: "id", Value: NumberValue(1)}, Field{Name: "email", Value: StringValue("a@example.com")}),
		NewRow(Field{Name: "id", Value: StringValue("x")}, Field{Name: "email", Value: StringValue("nope")}),
		NewRow(Field{Name: "email", Value: StringValue("b@example.com")}),
	}
	result := v.Validate(rows)
	assert.False(t, result.IsValid)
	assert.Equal(t, 2, result.InvalidRows)
	require.Len(t, result.Errors, 3)
	assert.Equal(t, 2, result.Errors[0].Row)
	assert.Equal(t, 2, result.Errors[1].Row)
	assert.Equal(t, 3, result.Errors[2].Row)
	assert.Equal(t, model.CodeRequired, result.Errors[2].Code)
	assert.True(t, rows[1].Equal(result.Errors[0].Raw))

	assert.True(t, v.Validate(rows[:1]).IsValid)
}

func TestNewValidatorErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]ValidationRule{
		"no field":        {},
		"bad pattern":     {Field: "f", Pattern: "("},
		"length inverted": {Field: "f", MinLength: Ptr(5), MaxLength: Ptr(1)},
		"range inverted":  {Field: "f", Min: Ptr(5.0), Max: Ptr(1.0)},
	}
	for name, rule := range tests {
		_, err := NewValidator([]ValidationRule{rule})
		assert.ErrorIs(t, err, ErrConfiguration, name)
	}
}
