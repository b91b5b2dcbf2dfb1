package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func calcResult(t *testing.T, expr string) float64 {
	t.Helper()
	out, err := NewCalculator().Execute(context.Background(), map[string]any{"expression": expr})
	require.NoError(t, err)
	m, ok := out.(map[string]any)
	require.True(t, ok)
	return m["result"].(float64)
}

func TestCalculatorBasics(t *testing.T) {
	assert.Equal(t, 4.0, calcResult(t, "2+2"))
	assert.Equal(t, 7.0, calcResult(t, "1 + 2 * 3"))
	assert.Equal(t, 9.0, calcResult(t, "(1 + 2) * 3"))
	assert.Equal(t, -5.0, calcResult(t, "-5"))
	assert.Equal(t, 2.5, calcResult(t, "5 / 2"))
	assert.Equal(t, 1.0, calcResult(t, "7 % 3"))
}

func TestCalculatorPowerRightAssociative(t *testing.T) {
	// 2^(3^2) = 512, not (2^3)^2 = 64
	assert.Equal(t, 512.0, calcResult(t, "2 ^ 3 ^ 2"))
}

func TestCalculatorFunctions(t *testing.T) {
	assert.Equal(t, 4.0, calcResult(t, "sqrt(16)"))
	assert.Equal(t, 3.0, calcResult(t, "min(5, 3, 8)"))
	assert.Equal(t, 8.0, calcResult(t, "max(5, 3, 8)"))
	assert.Equal(t, 8.0, calcResult(t, "pow(2, 3)"))
	assert.Equal(t, 5.0, calcResult(t, "abs(-5)"))
	assert.InDelta(t, 3.14159, calcResult(t, "pi"), 0.001)
}

func TestCalculatorErrors(t *testing.T) {
	calc := NewCalculator()
	cases := []string{
		"1/0",
		"5 % 0",
		"2 +",
		"(1 + 2",
		"nosuchfn(3)",
		"bogus",
		"",
	}
	for _, expr := range cases {
		_, err := calc.Execute(context.Background(), map[string]any{"expression": expr})
		assert.Error(t, err, "expression %q", expr)
	}
}

func TestCalculatorDescriptor(t *testing.T) {
	desc := NewCalculator().Describe()
	assert.Equal(t, "calculator", desc.Name)
	require.NotNil(t, desc.ArgumentSchema)

	schema, ok := desc.ArgumentSchema.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "object", schema["type"])
	assert.Contains(t, schema["required"], "expression")
}
