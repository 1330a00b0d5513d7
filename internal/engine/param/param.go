// Package param implements the engine's Parameter System:
// typed value containers and bidirectional conversion between in-engine
// values (raw bytes) and wire values (object references).
//
// WireValue/EngineValue generalize the untyped map[string]any node
// inputs/outputs used elsewhere in the codebase into a tagged variant
// shape: {Kind, payload}.
package param

import (
	"context"
	"errors"
	"fmt"

	"github.com/rakunlabs/at-engine/internal/engine/model"
	"github.com/rakunlabs/at-engine/internal/engine/objectstore"
)

// ErrTypeMismatch is returned by FromWire/ToWire when a value does not
// type-check against its declared ParamType. It stands in for the
// source's "returns undefined" behavior.
var ErrTypeMismatch = errors.New("param: type mismatch")

// WireValue is the form a value takes between nodes and in persisted
// records: scalars/JSON carried inline, binary payloads carried as an
// Object Store reference.
type WireValue struct {
	Kind model.ParamType
	Raw  any
	Ref  *model.ObjectReference
}

// EngineValue is the form a value takes inside a node's execute call:
// scalars/JSON carried inline, binary payloads materialized as bytes. Ref
// is set when a node passes a binary wire reference through unchanged
// without loading its bytes, to avoid duplicating it.
type EngineValue struct {
	Kind     model.ParamType
	Raw      any
	Data     []byte
	MimeType string
	Ref      *model.ObjectReference
}

// Store is the subset of the Object Store that the Parameter System
// needs to materialize and dematerialize binary values.
type Store interface {
	WriteObject(ctx context.Context, data []byte, mimeType, organizationID, executionID string) (model.ObjectReference, error)
	ReadObject(ctx context.Context, ref model.ObjectReference) ([]byte, objectstore.ObjectMetadata, error)
}

// ToWire converts an engine-side value to its wire form.
// For scalar/JSON types this is an identity conversion with a runtime
// type check. For binary types it writes the bytes to the Object Store
// and returns a reference. A value that is already a reference (a node
// passing a binary output through unchanged) is written through without
// duplication.
func ToWire(ctx context.Context, t model.ParamType, v EngineValue, store Store, organizationID, executionID string) (WireValue, error) {
	if t.IsBinary() {
		if v.Ref != nil {
			ref := *v.Ref
			return WireValue{Kind: t, Ref: &ref}, nil
		}
		if v.Data == nil {
			return WireValue{}, fmt.Errorf("%w: binary value for %s has neither data nor a reference", ErrTypeMismatch, t)
		}
		mimeType := v.MimeType
		ref, err := store.WriteObject(ctx, v.Data, mimeType, organizationID, executionID)
		if err != nil {
			return WireValue{}, err
		}
		return WireValue{Kind: t, Ref: &ref}, nil
	}

	if err := checkScalar(t, v.Raw); err != nil {
		return WireValue{}, err
	}
	return WireValue{Kind: t, Raw: v.Raw}, nil
}

// FromWire converts a wire-side value to its engine form.
// For binary types it reads the referenced bytes from the Object Store.
// Returns ErrTypeMismatch if the wire value does not type-check against t.
func FromWire(ctx context.Context, t model.ParamType, v WireValue, store Store) (EngineValue, error) {
	if t.IsBinary() {
		if v.Ref == nil {
			return EngineValue{}, fmt.Errorf("%w: expected a %s reference, got none", ErrTypeMismatch, t)
		}
		data, _, err := store.ReadObject(ctx, *v.Ref)
		if err != nil {
			return EngineValue{}, err
		}
		return EngineValue{Kind: t, Data: data, MimeType: v.Ref.MimeType}, nil
	}

	if err := checkScalar(t, v.Raw); err != nil {
		return EngineValue{}, err
	}
	return EngineValue{Kind: t, Raw: v.Raw}, nil
}

// Ref marks an EngineValue as a pass-through binary reference rather than
// materialized bytes, so ToWire can write it through without duplication.
func Ref(kind model.ParamType, ref model.ObjectReference) EngineValue {
	return EngineValue{Kind: kind, Ref: &ref}
}

// checkScalar enforces the compatibility rules for a bare
// value against a declared type: any accepts anything, json accepts any
// serializable scalar/array/object, no implicit numeric narrowing.
func checkScalar(t model.ParamType, v any) error {
	if t == model.TypeAny {
		return nil
	}
	if v == nil {
		return nil
	}

	switch t {
	case model.TypeString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("%w: want string, got %T", ErrTypeMismatch, v)
		}
	case model.TypeNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64:
		default:
			return fmt.Errorf("%w: want number, got %T", ErrTypeMismatch, v)
		}
	case model.TypeBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("%w: want boolean, got %T", ErrTypeMismatch, v)
		}
	case model.TypeJSON, model.TypeGeoJSON:
		// Any JSON-serializable tree is accepted; binary EngineValues
		// never reach here since IsBinary routes them elsewhere.
	default:
		return fmt.Errorf("%w: unhandled scalar type %s", ErrTypeMismatch, t)
	}
	return nil
}
