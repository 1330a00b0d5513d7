package nodes

import (
	"context"
	"testing"

	"github.com/rakunlabs/at-engine/internal/engine/model"
	"github.com/rakunlabs/at-engine/internal/engine/param"
	"github.com/rakunlabs/at-engine/internal/engine/registry"
)

func mathContext(a, b float64) registry.Context {
	return registry.Context{
		Inputs: map[string]param.EngineValue{
			"a": {Raw: a},
			"b": {Raw: b},
		},
	}
}

func runMath(t *testing.T, d registry.Descriptor, a, b float64) registry.Outcome {
	t.Helper()
	ex, err := d.Factory(model.Node{})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	return ex.Run(context.Background(), mathContext(a, b))
}

func TestArithmetic_Addition(t *testing.T) {
	out := runMath(t, additionDescriptor, 2, 3)
	if out.Err != nil || out.Outputs["result"].Raw != 5.0 {
		t.Fatalf("addition(2,3) = %+v", out)
	}
}

func TestArithmetic_Subtraction(t *testing.T) {
	out := runMath(t, subtractionDescriptor, 5, 3)
	if out.Err != nil || out.Outputs["result"].Raw != 2.0 {
		t.Fatalf("subtraction(5,3) = %+v", out)
	}
}

func TestArithmetic_Multiplication(t *testing.T) {
	out := runMath(t, multiplicationDescriptor, 4, 3)
	if out.Err != nil || out.Outputs["result"].Raw != 12.0 {
		t.Fatalf("multiplication(4,3) = %+v", out)
	}
}

func TestArithmetic_Division(t *testing.T) {
	out := runMath(t, divisionDescriptor, 9, 3)
	if out.Err != nil || out.Outputs["result"].Raw != 3.0 {
		t.Fatalf("division(9,3) = %+v", out)
	}
}

func TestArithmetic_DivisionByZero(t *testing.T) {
	out := runMath(t, divisionDescriptor, 1, 0)
	if out.Err == nil {
		t.Fatal("expected division by zero to error")
	}
}

func TestArithmetic_NonNumericInputs(t *testing.T) {
	ex, err := additionDescriptor.Factory(model.Node{})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	rc := registry.Context{Inputs: map[string]param.EngineValue{
		"a": {Raw: "not-a-number"},
		"b": {Raw: 1.0},
	}}
	out := ex.Run(context.Background(), rc)
	if out.Err == nil {
		t.Fatal("expected a type error for a non-numeric input")
	}
}
