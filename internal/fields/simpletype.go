package fields

import "strings"

var simpleTypes = map[string]SimpleType{
	"boolean": SimpleTypeBoolean,
	"bool":    SimpleTypeBoolean,
	"bit":     SimpleTypeBoolean,

	"smallint":         SimpleTypeNumber,
	"integer":          SimpleTypeNumber,
	"bigint":           SimpleTypeNumber,
	"int":              SimpleTypeNumber,
	"int2":             SimpleTypeNumber,
	"int4":             SimpleTypeNumber,
	"int8":             SimpleTypeNumber,
	"smallserial":      SimpleTypeNumber,
	"serial":           SimpleTypeNumber,
	"bigserial":        SimpleTypeNumber,
	"numeric":          SimpleTypeNumber,
	"decimal":          SimpleTypeNumber,
	"real":             SimpleTypeNumber,
	"float":            SimpleTypeNumber,
	"float4":           SimpleTypeNumber,
	"float8":           SimpleTypeNumber,
	"double precision": SimpleTypeNumber,
	"money":            SimpleTypeNumber,

	"date": SimpleTypeDate,

	"timestamp":                   SimpleTypeDatetime,
	"timestamptz":                 SimpleTypeDatetime,
	"timestamp without time zone": SimpleTypeDatetime,
	"timestamp with time zone":    SimpleTypeDatetime,

	"time":                   SimpleTypeTime,
	"timetz":                 SimpleTypeTime,
	"time without time zone": SimpleTypeTime,
	"time with time zone":    SimpleTypeTime,
}

// NormalizeDataType lower-cases t and strips precision and array markers.
func NormalizeDataType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if idx := strings.Index(t, "("); idx > 0 {
		rest := ""
		if end := strings.Index(t[idx:], ")"); end >= 0 {
			rest = t[idx+end+1:]
		}
		t = strings.TrimSpace(t[:idx]) + rest
	}
	t = strings.TrimSuffix(t, "[]")
	return strings.TrimSpace(t)
}

// InferSimpleType maps a raw column type to its simple type. Key columns
// are reported as SimpleTypeKey regardless of their storage type; unknown
// types fall back to SimpleTypeString.
func InferSimpleType(dataType string, key bool) SimpleType {
	if key {
		return SimpleTypeKey
	}
	if st, ok := simpleTypes[NormalizeDataType(dataType)]; ok {
		return st
	}
	return SimpleTypeString
}
