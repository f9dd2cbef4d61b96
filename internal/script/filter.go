// Package script runs a user Lua accept(event) hook on doorbell events.
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/ringflash/internal/ring"
)

const (
	acceptFunc = "accept"

	DefaultTimeout = time.Second
)

var ErrScript = errors.New("filter script error")

// Filter holds one Lua state. Calls are serialized since an LState is not
// safe for concurrent use.
type Filter struct {
	mu      sync.Mutex
	L       *lua.LState
	name    string
	timeout time.Duration
}

// Load reads and compiles the script at path.
func Load(path string) (*Filter, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScript, err)
	}
	return New(path, string(src))
}

// New compiles src, which must define a global accept function.
func New(name, src string) (*Filter, error) {
	L := lua.NewState()
	L.PreloadModule("log", logLoader)

	if err := L.DoString(src); err != nil {
		L.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrScript, name, err)
	}
	if _, ok := L.GetGlobal(acceptFunc).(*lua.LFunction); !ok {
		L.Close()
		return nil, fmt.Errorf("%w: %s does not define %s(event)", ErrScript, name, acceptFunc)
	}

	return &Filter{L: L, name: name, timeout: DefaultTimeout}, nil
}

// Accept calls accept(event) with event.event_type and event.event_data.
// Any return value other than nil or false accepts.
func (f *Filter) Accept(ctx context.Context, ev ring.Event) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	f.L.SetContext(ctx)
	defer f.L.RemoveContext()

	tbl := f.L.NewTable()
	tbl.RawSetString("event_type", lua.LString(ev.Type))
	tbl.RawSetString("event_data", toLua(f.L, map[string]any(ev.Data)))

	err := f.L.CallByParam(lua.P{
		Fn:      f.L.GetGlobal(acceptFunc),
		NRet:    1,
		Protect: true,
	}, tbl)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrScript, f.name, err)
	}

	ret := f.L.Get(-1)
	f.L.Pop(1)
	return lua.LVAsBool(ret), nil
}

// Close releases the Lua state.
func (f *Filter) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.L.Close()
}
