package trace

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// maxFlattenDepth bounds struct nesting, which also stops pointer cycles.
const maxFlattenDepth = 32

var (
	errNotStruct = errors.New("stats object is not a struct")
	errTooDeep   = errors.Errorf("stats object nests deeper than %d levels", maxFlattenDepth)
)

// CounterEvent returns a PhaseCounter event whose Args are the numeric fields of `stats`. For
// example:
//
//	type Foo struct {
//	  PowerPct float64
//	  Pos      int
//	  Motor    struct{ Healthy bool }
//	}
//
// yields Args `{"PowerPct": ..., "Pos": ..., "Motor.Healthy": 1}`. Nested structs are joined with
// dots, booleans become 0 or 1 and non-numeric fields (strings, slices, maps, channels) are
// skipped. A `json` tag renames a field and `json:"-"` drops it. A NaN or infinite float field
// returns ErrInvalidEvent.
func CounterEvent(name string, ts time.Time, stats any) (Event, error) {
	args := make(map[string]any)
	if err := flattenStruct(reflect.ValueOf(stats), "", 0, args); err != nil {
		return Event{}, errors.Wrapf(err, "counter %q", name)
	}

	return Event{
		Name:  name,
		Phase: PhaseCounter,
		Time:  ts,
		Args:  args,
	}, nil
}

func flattenPtr(inp reflect.Value) reflect.Value {
	for inp.Kind() == reflect.Pointer || inp.Kind() == reflect.Interface {
		if inp.IsNil() {
			return inp
		}
		inp = inp.Elem()
	}
	return inp
}

func fieldName(field reflect.StructField) (string, bool) {
	tag, ok := field.Tag.Lookup("json")
	if !ok {
		return field.Name, true
	}

	tagName, _, _ := strings.Cut(tag, ",")
	switch tagName {
	case "-":
		return "", false
	case "":
		return field.Name, true
	default:
		return tagName, true
	}
}

// flattenStruct walks the exported member fields of `item` in declaration order and records each
// numeric value in `out` under its dotted name.
func flattenStruct(item reflect.Value, prefix string, depth int, out map[string]any) error {
	if depth > maxFlattenDepth {
		return errors.Wrapf(errTooDeep, "at %q", prefix)
	}
	rVal := flattenPtr(item)
	if rVal.Kind() != reflect.Struct {
		return errNotStruct
	}

	rType := rVal.Type()
	for memberIdx := 0; memberIdx < rVal.NumField(); memberIdx++ {
		structField := rType.Field(memberIdx)
		if !structField.IsExported() {
			continue
		}
		name, keep := fieldName(structField)
		if !keep {
			continue
		}
		if prefix != "" {
			name = fmt.Sprintf("%v.%v", prefix, name)
		}

		rField := flattenPtr(rVal.Field(memberIdx))
		switch {
		case rField.CanUint():
			out[name] = rField.Uint()
		case rField.CanInt():
			out[name] = rField.Int()
		case rField.CanFloat():
			val := rField.Float()
			if math.IsNaN(val) || math.IsInf(val, 0) {
				return errors.Wrapf(ErrInvalidEvent, "field %q is %v", name, val)
			}
			out[name] = val
		case rField.Kind() == reflect.Bool:
			if rField.Bool() {
				out[name] = 1
			} else {
				out[name] = 0
			}
		case rField.Kind() == reflect.Struct:
			// time.Time is a struct, but it is a value rather than a group of metrics.
			if rField.Type() == reflect.TypeOf(time.Time{}) {
				continue
			}
			if err := flattenStruct(rField, name, depth+1, out); err != nil {
				return err
			}
		default:
			// Nil pointers, strings, slices, maps and channels carry no counter value.
		}
	}

	return nil
}
