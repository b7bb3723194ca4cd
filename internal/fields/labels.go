package fields

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// Humanize turns an identifier such as "is_manager" into "Is Manager".
func Humanize(identifier string) string {
	words := strings.FieldsFunc(identifier, func(r rune) bool {
		return r == '_' || r == '-' || unicode.IsSpace(r)
	})
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// fillLabels derives missing display labels from the natural key.
func fillLabels(f *Field) {
	if f.Label == "" {
		f.Label = Humanize(f.Name)
	}
	if f.ModelLabel == "" {
		f.ModelLabel = Humanize(inflection.Singular(f.Model))
	}
	if f.ModelLabelPlural == "" {
		f.ModelLabelPlural = inflection.Plural(f.ModelLabel)
	}
}
