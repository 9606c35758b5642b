package starlarkengine

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case starlark.Value:
		return val, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case *big.Int:
		return starlark.MakeBigInt(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case time.Time:
		return starlark.String(val.Format(time.RFC3339Nano)), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			starlarkVal, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[interface{}]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			key, err := toStarlarkValue(k)
			if err != nil {
				return nil, err
			}
			starlarkVal, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(key, starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value. A container
// that contains itself is an error.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	c := converter{active: make(map[starlark.Value]bool)}
	return c.convert(v)
}

type converter struct {
	active map[starlark.Value]bool
}

// enter marks v as being converted. Only pointer-backed containers are
// tracked; tuples cannot close a cycle on their own.
func (c *converter) enter(v starlark.Value) (func(), error) {
	if c.active[v] {
		return nil, fmt.Errorf("cyclic value: %s already contains itself", v.Type())
	}
	c.active[v] = true
	return func() { delete(c.active, v) }, nil
}

func (c *converter) convert(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		leave, err := c.enter(val)
		if err != nil {
			return nil, err
		}
		defer leave()

		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := c.convert(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, item := range val {
			goItem, err := c.convert(item)
			if err != nil {
				return nil, err
			}
			list[i] = goItem
		}
		return list, nil
	case *starlark.Set:
		list := make([]interface{}, 0, val.Len())
		iter := val.Iterate()
		defer iter.Done()
		var item starlark.Value
		for iter.Next(&item) {
			goItem, err := c.convert(item)
			if err != nil {
				return nil, err
			}
			list = append(list, goItem)
		}
		return list, nil
	case *starlark.Dict:
		leave, err := c.enter(val)
		if err != nil {
			return nil, err
		}
		defer leave()

		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := c.convert(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *moduleValue:
		leave, err := c.enter(val)
		if err != nil {
			return nil, err
		}
		defer leave()
		return c.convert(val.exports)
	case *starlarkstruct.Struct, *starlarkstruct.Module:
		leave, err := c.enter(val)
		if err != nil {
			return nil, err
		}
		defer leave()

		hasAttrs := val.(starlark.HasAttrs)
		dict := make(map[string]interface{})
		for _, name := range hasAttrs.AttrNames() {
			attr, err := hasAttrs.Attr(name)
			if err != nil || attr == nil {
				continue
			}
			value, err := c.convert(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	case starlark.Callable:
		return val.String(), nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
