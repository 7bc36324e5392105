package script

import (
	"fmt"
	"sort"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/broker/internal/broker"
)

// toLValue converts a Go value to a Lua value. Lua values pass through.
func toLValue(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case time.Time:
		return lua.LNumber(float64(val.UnixNano()) / 1e9)
	case error:
		return lua.LString(val.Error())
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, toLValue(L, item))
		}
		return tbl
	case []string:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, lua.LString(item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, toLValue(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// fromLValue converts a Lua value to a Go value. Tables with only positive
// integer keys become []any; other tables become map[string]any. Functions
// and userdata are returned unchanged.
func fromLValue(v lua.LValue) any {
	if v == nil || v == lua.LNil {
		return nil
	}

	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		return tableToGo(val)
	default:
		return v
	}
}

func tableToGo(tbl *lua.LTable) any {
	isArray := true
	maxIdx := 0
	count := 0
	tbl.ForEach(func(k, _ lua.LValue) {
		count++
		num, ok := k.(lua.LNumber)
		if !ok || float64(num) != float64(int(num)) || int(num) < 1 {
			isArray = false
			return
		}
		if int(num) > maxIdx {
			maxIdx = int(num)
		}
	})

	if isArray && count > 0 && maxIdx == count {
		arr := make([]any, maxIdx)
		tbl.ForEach(func(k, v lua.LValue) {
			arr[int(k.(lua.LNumber))-1] = fromLValue(v)
		})
		return arr
	}

	result := make(map[string]any, count)
	tbl.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = fmt.Sprintf("%v", float64(kv))
		default:
			key = k.String()
		}
		result[key] = fromLValue(v)
	})
	return result
}

// optionsFromTable converts a Lua options table. The context entry keeps
// its Lua value so the handler gets the same table back.
func optionsFromTable(tbl *lua.LTable) (broker.Options, error) {
	m := make(map[string]any)
	var keyErr error
	tbl.ForEach(func(k, v lua.LValue) {
		key, ok := k.(lua.LString)
		if !ok {
			keyErr = fmt.Errorf("%w: option keys must be strings, got %s", broker.ErrInvalidOptions, k.Type())
			return
		}
		switch string(key) {
		case "context", "receiver":
			m[string(key)] = v
		default:
			m[string(key)] = fromLValue(v)
		}
	})
	if keyErr != nil {
		return broker.Options{}, keyErr
	}
	return broker.OptionsFromMap(m)
}

// subscriptionTable describes a subscription to Lua.
func subscriptionTable(L *lua.LState, s broker.Subscription) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("id", lua.LString(s.ID))
	tbl.RawSetString("channel", lua.LString(s.Channel))
	tbl.RawSetString("priority", lua.LNumber(s.Priority))
	if s.Limited {
		tbl.RawSetString("count", lua.LNumber(s.Remaining))
	}
	tbl.RawSetString("created", toLValue(L, s.Created))
	if s.Receiver != nil {
		tbl.RawSetString("context", toLValue(L, s.Receiver))
	}
	return tbl
}

// subscriptionList returns the subscriptions grouped by channel in name
// order, each group in dispatch order.
func subscriptionList(L *lua.LState, channels map[string][]broker.Subscription) *lua.LTable {
	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)

	tbl := L.NewTable()
	for _, name := range names {
		for _, s := range channels[name] {
			tbl.Append(subscriptionTable(L, s))
		}
	}
	return tbl
}

func stringList(L *lua.LState, items []string) *lua.LTable {
	tbl := L.NewTable()
	for _, s := range items {
		tbl.Append(lua.LString(s))
	}
	return tbl
}
