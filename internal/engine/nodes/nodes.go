// Package nodes holds the built-in node type descriptors and factories
// registered with the engine's Node Registry. Each file defines one unexported
// registry.Descriptor value and its backing Executable, following the
// one-file-per-type layout of the internal/service/workflow/nodes
// package (register.go's doc comment lists the catalogue there; All below
// is this package's equivalent, listed by hand rather than by init
// side effects).
package nodes

import (
	"github.com/rakunlabs/at-engine/internal/engine/param"
	"github.com/rakunlabs/at-engine/internal/engine/registry"
)

// All returns every built-in node descriptor, for registry.New.
func All() []registry.Descriptor {
	return []registry.Descriptor{
		numberInputDescriptor,
		stringInputDescriptor,
		booleanInputDescriptor,
		jsonInputDescriptor,
		additionDescriptor,
		subtractionDescriptor,
		multiplicationDescriptor,
		divisionDescriptor,
		conditionalForkDescriptor,
		conditionalJoinDescriptor,
		scriptDescriptor,
		templateDescriptor,
		httpRequestDescriptor,
		execDescriptor,
		emailDescriptor,
	}
}

// raw pulls a plain Go value out of an EngineValue input, regardless of
// whether it arrived as a scalar Raw or a materialized binary payload.
func raw(inputs map[string]param.EngineValue, name string) any {
	v, ok := inputs[name]
	if !ok {
		return nil
	}
	if v.Data != nil {
		return v.Data
	}
	return v.Raw
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}
