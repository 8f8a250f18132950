package policy

import (
	"fmt"
	"os"

	lua "github.com/yuin/gopher-lua"
)

// LuaProvider runs a sandboxed Lua script per decision. The script defines
//
//	function decide(failure)
//	  return "retry" | "retry_backoff" | "skip" | "abort"
//	end
//
// where failure is a table with phase, attempt, exit_code, timed_out and
// output_tail fields.
type LuaProvider struct {
	script string
	path   string
}

// NewLuaProvider reads the script and checks it defines a decide function.
func NewLuaProvider(path string) (*LuaProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy script: %w", err)
	}
	p := &LuaProvider{script: string(data), path: path}

	L, err := p.newState()
	if err != nil {
		return nil, err
	}
	defer L.Close()
	if L.GetGlobal("decide") == lua.LNil {
		return nil, fmt.Errorf("policy script %s must define a 'decide' function", path)
	}
	return p, nil
}

// newState builds a fresh sandboxed interpreter with the script loaded. A
// fresh state per call keeps decisions independent of each other.
func (p *LuaProvider) newState() (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	lua.OpenBase(L)
	// No filesystem or code loading from inside policy scripts.
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	if err := L.DoString(p.script); err != nil {
		L.Close()
		return nil, fmt.Errorf("load policy script %s: %w", p.path, err)
	}
	return L, nil
}

func (p *LuaProvider) Decide(f Failure) (Decision, error) {
	L, err := p.newState()
	if err != nil {
		return DecisionAbort, err
	}
	defer L.Close()

	tbl := L.NewTable()
	L.SetField(tbl, "phase", lua.LString(f.Phase))
	L.SetField(tbl, "attempt", lua.LNumber(f.Attempt))
	L.SetField(tbl, "exit_code", lua.LNumber(f.ExitCode))
	L.SetField(tbl, "timed_out", lua.LBool(f.TimedOut))
	L.SetField(tbl, "output_tail", lua.LString(f.OutputTail))

	L.Push(L.GetGlobal("decide"))
	L.Push(tbl)
	if err := L.PCall(1, 1, nil); err != nil {
		return DecisionAbort, fmt.Errorf("policy script %s: %w", p.path, err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	switch Decision(lua.LVAsString(ret)) {
	case DecisionRetry:
		return DecisionRetry, nil
	case DecisionRetryBackoff:
		return DecisionRetryBackoff, nil
	case DecisionSkip:
		return DecisionSkip, nil
	case DecisionAbort:
		return DecisionAbort, nil
	}
	return DecisionAbort, fmt.Errorf("policy script %s returned unknown decision %q", p.path, lua.LVAsString(ret))
}
