package workflow

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// conditionCache holds compiled condition programs keyed by source. Step
// definitions are immutable, so a compiled program stays valid for as long
// as its source text is used.
type conditionCache struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

func newConditionCache() *conditionCache {
	return &conditionCache{programs: make(map[string]*vm.Program)}
}

func (c *conditionCache) compile(src string) (*vm.Program, error) {
	c.mu.RLock()
	p, ok := c.programs[src]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := expr.Compile(src, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.programs[src] = p
	c.mu.Unlock()
	return p, nil
}

// evaluate runs the boolean expression src against env. Any compile or
// runtime error is returned with a false result.
func (c *conditionCache) evaluate(src string, env map[string]any) (result bool, err error) {
	if src == "" {
		return false, fmt.Errorf("empty condition")
	}
	defer func() {
		if r := recover(); r != nil {
			result, err = false, fmt.Errorf("condition panicked: %v", r)
		}
	}()

	p, err := c.compile(src)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(p, env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition returned %T, want bool", out)
	}
	return b, nil
}
