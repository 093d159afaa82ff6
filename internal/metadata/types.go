package metadata

import (
	"fmt"
	"strings"
)

// DataType is the closed set of types a parameter or response field can
// declare. Casting switches over it exhaustively.
type DataType int

const (
	TypeAny DataType = iota // response fields only: value passes through uncast
	TypeString
	TypeInteger
	TypeFloat
	TypeBoolean
	TypeDate
	TypeDateTime
	TypeJSON
	TypeArray
)

var typeNames = map[DataType]string{
	TypeAny:      "any",
	TypeString:   "string",
	TypeInteger:  "integer",
	TypeFloat:    "float",
	TypeBoolean:  "boolean",
	TypeDate:     "date",
	TypeDateTime: "datetime",
	TypeJSON:     "json",
	TypeArray:    "array",
}

// ParseDataType maps a declared type name (and its common aliases) to a DataType.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return TypeAny, nil
	case "string", "text", "varchar", "char":
		return TypeString, nil
	case "integer", "int", "bigint", "smallint":
		return TypeInteger, nil
	case "float", "double", "decimal", "number", "numeric":
		return TypeFloat, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	case "date":
		return TypeDate, nil
	case "datetime", "timestamp":
		return TypeDateTime, nil
	case "json", "object":
		return TypeJSON, nil
	case "array", "list":
		return TypeArray, nil
	}
	return TypeAny, fmt.Errorf("unknown data type %q", s)
}

func (t DataType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("DataType(%d)", int(t))
}

// IsNumeric reports whether min/max rules compare the value itself
// rather than its length.
func (t DataType) IsNumeric() bool {
	return t == TypeInteger || t == TypeFloat
}

func (t DataType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *DataType) UnmarshalText(b []byte) error {
	parsed, err := ParseDataType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
