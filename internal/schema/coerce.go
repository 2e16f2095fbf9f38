package schema

import (
	"fmt"
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"
)

// CoerceArguments evaluates the arguments a query passes to f against vars
// and coerces them to the declared argument types. Omitted arguments take
// their default value; a required argument without one is an error. The
// result is nil when f receives no arguments.
func (f *Field) CoerceArguments(args ast.ArgumentList, vars map[string]any) (map[string]any, error) {
	coerced := make(map[string]any, len(f.Arguments))
	for _, arg := range args {
		def := f.Argument(arg.Name)
		if def == nil {
			return nil, fmt.Errorf("unknown argument %q on field %q", arg.Name, f.Name)
		}
		raw, err := arg.Value.Value(vars)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", arg.Name, err)
		}
		v, err := CoerceValue(raw, def.Type)
		if err != nil {
			return nil, fmt.Errorf("argument %q of type %s cannot be coerced: %w", arg.Name, def.Type, err)
		}
		coerced[arg.Name] = v
	}
	for _, def := range f.Arguments {
		if _, ok := coerced[def.Name]; ok {
			continue
		}
		switch {
		case def.HasDefault:
			v, err := CoerceValue(def.Default, def.Type)
			if err != nil {
				return nil, fmt.Errorf("default of argument %q: %w", def.Name, err)
			}
			coerced[def.Name] = v
		case def.Type.IsNonNull():
			return nil, fmt.Errorf("argument %q of required type %s was not provided", def.Name, def.Type)
		}
	}
	if len(coerced) == 0 {
		return nil, nil
	}
	return coerced, nil
}

// CoerceValue coerces value to t. Built-in scalars are converted; custom
// scalars, enums and input objects pass through unchanged.
func CoerceValue(value any, t *TypeRef) (any, error) {
	if t.IsNonNull() {
		if value == nil {
			return nil, fmt.Errorf("cannot provide null for non-null type")
		}
		return CoerceValue(value, t.Unwrap())
	}
	if value == nil {
		return nil, nil
	}
	if t.IsList() {
		return coerceList(value, t.Unwrap())
	}

	switch t.GetNamedType() {
	case "Int":
		return coerceToInt(value)
	case "Float":
		return coerceToFloat(value)
	case "String":
		return coerceToString(value)
	case "Boolean":
		return coerceToBoolean(value)
	case "ID":
		return coerceToID(value)
	default:
		return value, nil
	}
}

// coerceList coerces each item; a single value becomes a list of one.
func coerceList(value any, item *TypeRef) (any, error) {
	slice, ok := value.([]any)
	if !ok {
		v, err := CoerceValue(value, item)
		if err != nil {
			return nil, err
		}
		return []any{v}, nil
	}
	out := make([]any, len(slice))
	for i, v := range slice {
		cv, err := CoerceValue(v, item)
		if err != nil {
			return nil, err
		}
		out[i] = cv
	}
	return out, nil
}

func coerceToInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v == float64(int(v)) {
			return int(v), nil
		}
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i, nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to int", value, value)
}

func coerceToFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to float", value, value)
}

func coerceToString(value any) (any, error) {
	if v, ok := value.(string); ok {
		return v, nil
	}
	return fmt.Sprintf("%v", value), nil
}

func coerceToBoolean(value any) (any, error) {
	if v, ok := value.(bool); ok {
		return v, nil
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to boolean", value, value)
}

func coerceToID(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return fmt.Sprintf("%v", value), nil
	}
}
