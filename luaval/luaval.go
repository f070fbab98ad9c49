// Package luaval converts between Lua values and plain Go values (nil,
// bool, float64, string, []any, map[string]any), the shape shared by JSON
// payloads, worker data and capability calls.
package luaval

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// MaxDepth bounds table nesting in both directions.
const MaxDepth = 64

// MaxNodes bounds the number of values one conversion may produce. Shared
// subtables count once per visit, so a small Lua table cannot expand into
// an exponentially large Go value.
const MaxNodes = 100_000

var (
	// ErrUnsupported is returned for functions, userdata, threads and
	// channels, which cannot leave their state.
	ErrUnsupported = errors.New("value cannot be converted")
	// ErrTooDeep is returned for nesting beyond MaxDepth or cyclic tables.
	ErrTooDeep = errors.New("value nested too deeply")
	// ErrTooLarge is returned when a conversion exceeds MaxNodes.
	ErrTooLarge = errors.New("value too large")
)

// ToGo converts a Lua value. Tables whose keys are exactly 1..n become
// []any; other tables become map[string]any with numeric keys formatted.
// The empty table becomes an empty map.
func ToGo(v lua.LValue) (any, error) {
	c := &toGoConv{path: make(map[*lua.LTable]struct{})}
	return c.value(v, 0)
}

// toGoConv carries the budget and the tables on the current path.
type toGoConv struct {
	nodes int
	path  map[*lua.LTable]struct{}
}

func (c *toGoConv) value(v lua.LValue, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, ErrTooDeep
	}
	c.nodes++
	if c.nodes > MaxNodes {
		return nil, ErrTooLarge
	}
	switch v := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(v), nil
	case lua.LNumber:
		return float64(v), nil
	case lua.LString:
		return string(v), nil
	case *lua.LTable:
		if _, seen := c.path[v]; seen {
			return nil, fmt.Errorf("%w: cyclic table", ErrTooDeep)
		}
		c.path[v] = struct{}{}
		out, err := c.table(v, depth)
		delete(c.path, v)
		return out, err
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, v.Type().String())
}

func (c *toGoConv) table(t *lua.LTable, depth int) (any, error) {
	n := t.Len()
	count := 0
	arrayLike := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		num, ok := k.(lua.LNumber)
		if !ok || float64(num) != float64(int(num)) || int(num) < 1 || int(num) > n {
			arrayLike = false
		}
	})
	if c.nodes+count > MaxNodes {
		return nil, ErrTooLarge
	}

	if arrayLike && n > 0 && count == n {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			item, err := c.value(t.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	}

	out := make(map[string]any, count)
	var firstErr error
	t.ForEach(func(k, val lua.LValue) {
		if firstErr != nil {
			return
		}
		var key string
		switch k := k.(type) {
		case lua.LString:
			key = string(k)
		case lua.LNumber:
			key = k.String()
		default:
			firstErr = fmt.Errorf("%w: table key of type %s", ErrUnsupported, k.Type().String())
			return
		}
		item, err := c.value(val, depth+1)
		if err != nil {
			firstErr = err
			return
		}
		out[key] = item
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// FromGo converts a Go value into a value owned by L. Values outside the
// plain shapes are normalized through encoding/json first.
func FromGo(L *lua.LState, v any) (lua.LValue, error) {
	nodes := 0
	return fromGo(L, v, 0, &nodes)
}

func fromGo(L *lua.LState, v any, depth int, nodes *int) (lua.LValue, error) {
	if depth > MaxDepth {
		return lua.LNil, ErrTooDeep
	}
	*nodes++
	if *nodes > MaxNodes {
		return lua.LNil, ErrTooLarge
	}
	switch v := v.(type) {
	case nil:
		return lua.LNil, nil
	case lua.LValue:
		return v, nil
	case bool:
		return lua.LBool(v), nil
	case string:
		return lua.LString(v), nil
	case []byte:
		return lua.LString(v), nil
	case float64:
		return lua.LNumber(v), nil
	case float32:
		return lua.LNumber(v), nil
	case int:
		return lua.LNumber(v), nil
	case int32:
		return lua.LNumber(v), nil
	case int64:
		return lua.LNumber(v), nil
	case uint32:
		return lua.LNumber(v), nil
	case uint64:
		return lua.LNumber(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return lua.LNil, err
		}
		return lua.LNumber(f), nil
	case []any:
		t := L.CreateTable(len(v), 0)
		for _, item := range v {
			lv, err := fromGo(L, item, depth+1, nodes)
			if err != nil {
				return lua.LNil, err
			}
			t.Append(lv)
		}
		return t, nil
	case []string:
		*nodes += len(v)
		if *nodes > MaxNodes {
			return lua.LNil, ErrTooLarge
		}
		t := L.CreateTable(len(v), 0)
		for _, s := range v {
			t.Append(lua.LString(s))
		}
		return t, nil
	case map[string]any:
		t := L.CreateTable(0, len(v))
		for _, k := range sortedKeys(v) {
			lv, err := fromGo(L, v[k], depth+1, nodes)
			if err != nil {
				return lua.LNil, err
			}
			t.RawSetString(k, lv)
		}
		return t, nil
	case map[string]string:
		*nodes += len(v)
		if *nodes > MaxNodes {
			return lua.LNil, ErrTooLarge
		}
		t := L.CreateTable(0, len(v))
		for k, s := range v {
			t.RawSetString(k, lua.LString(s))
		}
		return t, nil
	}

	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Func || rv.Kind() == reflect.Chan {
		return lua.LNil, fmt.Errorf("%w: %T", ErrUnsupported, v)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return lua.LNil, fmt.Errorf("%w: %T: %v", ErrUnsupported, v, err)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return lua.LNil, err
	}
	return fromGo(L, generic, depth, nodes)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
