// FILE: lixenwraith/confgraph/invoke.go
package confgraph

import (
	"fmt"
	"reflect"
)

// Factory is a target that receives object arguments unconverted.
type Factory func(args []any, kwargs map[string]any) (any, error)

// AttributeSetter receives the named arguments of a plain object tag.
// Values that do not implement it get the arguments decoded onto them.
type AttributeSetter interface {
	SetAttr(name string, value any) error
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// invoke calls target with the given arguments.
// Supported targets: Factory, reflect.Type (allocates a new value and decodes
// kwargs into it) and any Go func. Func arguments are converted to the
// parameter types; a trailing struct, map or pointer-to-struct parameter that
// has no positional argument receives kwargs.
func invoke(target any, args []any, kwargs map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("panic during invocation: %v", r)
		}
	}()

	switch fn := target.(type) {
	case Factory:
		return fn(args, kwargs)
	case func([]any, map[string]any) (any, error):
		return fn(args, kwargs)
	case reflect.Type:
		return instantiate(fn, args, kwargs)
	}

	rv := reflect.ValueOf(target)
	if !rv.IsValid() || rv.Kind() != reflect.Func || rv.IsNil() {
		return nil, fmt.Errorf("%T is not callable", target)
	}
	return callFunc(rv, args, kwargs)
}

func instantiate(t reflect.Type, args []any, kwargs map[string]any) (any, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("type %s takes no positional arguments", t)
	}
	ptr := reflect.New(t)
	if len(kwargs) > 0 {
		if err := decodeInto(kwargs, ptr.Interface()); err != nil {
			return nil, err
		}
	}
	return ptr.Interface(), nil
}

func callFunc(fn reflect.Value, args []any, kwargs map[string]any) (any, error) {
	ft := fn.Type()
	fixed := ft.NumIn()
	if ft.IsVariadic() {
		fixed--
	}

	in := make([]reflect.Value, 0, len(args)+1)
	kwargsUsed := false
	for i := 0; i < fixed; i++ {
		pt := ft.In(i)
		if i < len(args) {
			v, err := convertArg(args[i], pt)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			in = append(in, v)
			continue
		}
		if i == len(args) && i == fixed-1 && acceptsKwargs(pt) {
			v, err := kwargsValue(kwargs, pt)
			if err != nil {
				return nil, fmt.Errorf("named arguments: %w", err)
			}
			in = append(in, v)
			kwargsUsed = true
			continue
		}
		return nil, fmt.Errorf("missing argument %d of type %s", i, pt)
	}

	if len(args) > fixed {
		if !ft.IsVariadic() {
			return nil, fmt.Errorf("too many arguments: want %d, got %d", fixed, len(args))
		}
		elem := ft.In(ft.NumIn() - 1).Elem()
		for i := fixed; i < len(args); i++ {
			v, err := convertArg(args[i], elem)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			in = append(in, v)
		}
	}

	if len(kwargs) > 0 && !kwargsUsed {
		return nil, fmt.Errorf("%s does not accept named arguments", ft)
	}

	return callResult(ft, fn.Call(in))
}

func callResult(ft reflect.Type, out []reflect.Value) (any, error) {
	if len(out) == 0 {
		return nil, nil
	}

	last := len(out) - 1
	if ft.Out(last) == errorType {
		if !out[last].IsNil() {
			return nil, out[last].Interface().(error)
		}
		if last == 0 {
			return nil, nil
		}
	}
	return out[0].Interface(), nil
}

// convertArg converts value to t, decoding through mapstructure when it is
// not directly assignable.
func convertArg(value any, t reflect.Type) (reflect.Value, error) {
	if value == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	ptr := reflect.New(t)
	if err := decodeInto(value, ptr.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return ptr.Elem(), nil
}

func acceptsKwargs(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Struct:
		return true
	case reflect.Map:
		return t.Key().Kind() == reflect.String
	case reflect.Ptr:
		return t.Elem().Kind() == reflect.Struct
	case reflect.Interface:
		return t.NumMethod() == 0
	}
	return false
}

func kwargsValue(kwargs map[string]any, t reflect.Type) (reflect.Value, error) {
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	if reflect.TypeOf(kwargs).AssignableTo(t) {
		return reflect.ValueOf(kwargs), nil
	}
	if t.Kind() == reflect.Ptr {
		ptr := reflect.New(t.Elem())
		if err := decodeInto(kwargs, ptr.Interface()); err != nil {
			return reflect.Value{}, err
		}
		return ptr, nil
	}
	ptr := reflect.New(t)
	if err := decodeInto(kwargs, ptr.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return ptr.Elem(), nil
}

// applyAttributes assigns kwargs onto target.
func applyAttributes(target any, kwargs map[string]any) error {
	if len(kwargs) == 0 {
		return nil
	}

	switch t := target.(type) {
	case AttributeSetter:
		for _, key := range sortedKeys(kwargs) {
			if err := t.SetAttr(key, kwargs[key]); err != nil {
				return fmt.Errorf("set %q: %w", key, err)
			}
		}
		return nil
	case *Tree:
		for _, key := range sortedKeys(kwargs) {
			t.Set(key, kwargs[key])
		}
		return nil
	case map[string]any:
		for key, value := range kwargs {
			t[key] = value
		}
		return nil
	}

	rv := reflect.ValueOf(target)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() && rv.Elem().Kind() == reflect.Struct {
		return decodeInto(kwargs, target)
	}
	return fmt.Errorf("cannot assign attributes on %T", target)
}
