package model

// FieldType is the inferred semantic type of a column
type FieldType int

const (
	// FieldTypeString is free text
	FieldTypeString FieldType = iota
	// FieldTypeNumber is numeric
	FieldTypeNumber
	// FieldTypeBoolean is true/false
	FieldTypeBoolean
	// FieldTypeDate is a date or datetime
	FieldTypeDate
	// FieldTypeEmail is an email address
	FieldTypeEmail
	// FieldTypeUUID is a UUID
	FieldTypeUUID
)

// String returns the name of the field type
func (t FieldType) String() string {
	switch t {
	case FieldTypeString:
		return "string"
	case FieldTypeNumber:
		return "number"
	case FieldTypeBoolean:
		return "boolean"
	case FieldTypeDate:
		return "date"
	case FieldTypeEmail:
		return "email"
	case FieldTypeUUID:
		return "uuid"
	default:
		return "string"
	}
}

// ParseFieldType converts a name produced by String back to a FieldType
func ParseFieldType(s string) (FieldType, bool) {
	switch s {
	case "string", "text":
		return FieldTypeString, true
	case "number", "numeric":
		return FieldTypeNumber, true
	case "boolean", "bool":
		return FieldTypeBoolean, true
	case "date", "datetime":
		return FieldTypeDate, true
	case "email":
		return FieldTypeEmail, true
	case "uuid":
		return FieldTypeUUID, true
	default:
		return FieldTypeString, false
	}
}

// SQLType returns the SQL column type used to store the field
func (t FieldType) SQLType() string {
	switch t {
	case FieldTypeNumber:
		return "REAL"
	case FieldTypeBoolean:
		return "BOOLEAN"
	default:
		// dates, emails and uuids are stored as TEXT
		return "TEXT"
	}
}

// FieldSchema describes one inferred column
type FieldSchema struct {
	Name          string
	Type          FieldType
	Nullable      bool
	Unique        bool
	Example       Value
	Examples      []Value
	NullCount     int
	DistinctCount int
}

// InferredSchema is the result of one inference call
type InferredSchema struct {
	Fields      []FieldSchema
	RowCount    int
	ColumnCount int
	Sample      []Row
}

// Field returns the schema of the named column
func (s InferredSchema) Field(name string) (FieldSchema, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// Columns returns the column names in order
func (s InferredSchema) Columns() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}
