package gotrack

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// TableNamer provides a custom table name for a registered struct.
type TableNamer interface {
	TableName() string
}

var tableNamerType = reflect.TypeOf((*TableNamer)(nil)).Elem()

// resolveTableName derives the store table of a registration target.
func resolveTableName(target any) (string, error) {
	switch v := target.(type) {
	case nil:
		return "", errors.New("gotrack: nil table target")
	case string:
		name := strings.TrimSpace(v)
		if name == "" {
			return "", errors.New("gotrack: empty table name")
		}
		return inflection.Plural(toSnakeCase(name)), nil
	}

	val := reflect.ValueOf(target)
	typ := val.Type()

	if typ.Kind() == reflect.Pointer {
		if val.IsNil() {
			return "", fmt.Errorf("gotrack: nil pointer target %T", target)
		}
		if namer, ok := val.Interface().(TableNamer); ok {
			return namedTable(namer, target)
		}
		typ = typ.Elem()
		val = val.Elem()
	}

	if namer, ok := val.Interface().(TableNamer); ok {
		return namedTable(namer, target)
	}

	if typ.Kind() == reflect.Struct {
		if reflect.PointerTo(typ).Implements(tableNamerType) {
			if namer, ok := reflect.New(typ).Interface().(TableNamer); ok {
				return namedTable(namer, target)
			}
		}
		if typ.Name() == "" {
			return "", fmt.Errorf("gotrack: cannot derive table name for anonymous struct of type %v", typ)
		}
		return inflection.Plural(toSnakeCase(typ.Name())), nil
	}

	return "", fmt.Errorf("gotrack: unsupported table target %T", target)
}

func namedTable(namer TableNamer, target any) (string, error) {
	name := strings.TrimSpace(namer.TableName())
	if name == "" {
		return "", fmt.Errorf("gotrack: TableName returned empty string. %T", target)
	}
	return name, nil
}

func toSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
