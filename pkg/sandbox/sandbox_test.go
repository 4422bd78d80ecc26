package sandbox

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteArithmetic(t *testing.T) {
	res := Execute("y = x + 1\ny * 2", map[string]any{"x": float64(3)})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, float64(8), res.Result)
	assert.Equal(t, float64(4), res.Variables["y"])
}

func TestExecuteVariablesExcludeSeededLocals(t *testing.T) {
	res := Execute("a = 1\nb = a + x", map[string]any{"x": float64(10)})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, map[string]any{"a": float64(1), "b": float64(11)}, res.Variables)
	_, hasX := res.Variables["x"]
	assert.False(t, hasX)
}

func TestExecuteMapAndListIndexing(t *testing.T) {
	locals := map[string]any{
		"memory": map[string]any{"count": float64(2)},
		"items":  []any{"a", "b", "c"},
	}
	res := Execute(`memory["count"] > 1 && items[0] == "a"`, locals)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, true, res.Result)
}

func TestExecuteConditionals(t *testing.T) {
	code := "if x > 5 {\n\tlabel = \"big\"\n} else {\n\tlabel = \"small\"\n}\nlabel"
	res := Execute(code, map[string]any{"x": float64(7)})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "big", res.Result)
}

func TestExecuteReturn(t *testing.T) {
	res := Execute("return len(\"abc\")", nil)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, float64(3), res.Result)
}

func TestSecurityRejections(t *testing.T) {
	cases := []string{
		"open(\"/etc/passwd\")",
		"os = 1",
		"x = socket",
		"a__b = 1",
		"exec(\"rm\")",
		"for { x = 1 }",
		"go doit()",
		"f = func() {}",
	}
	for _, code := range cases {
		res := Execute(code, nil)
		assert.False(t, res.Success, code)
		assert.Contains(t, res.Error, "Security", code)
	}
}

func TestUndefinedNameIsCodeError(t *testing.T) {
	res := Execute("y = missing + 1", nil)
	require.False(t, res.Success)
	assert.NotContains(t, res.Error, "Security")
	assert.Contains(t, res.Error, "missing")
}

func TestParseErrorReported(t *testing.T) {
	res := Execute("x = = 1", nil)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "parse error")
}

func TestExecutionTimeRecorded(t *testing.T) {
	res := ExecuteWithTimeout("1 + 1", nil, time.Second)
	require.True(t, res.Success)
	assert.GreaterOrEqual(t, res.ExecutionTimeMS, int64(0))
}

func TestTruthy(t *testing.T) {
	assert.True(t, Truthy(true))
	assert.True(t, Truthy(float64(1)))
	assert.True(t, Truthy("x"))
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(float64(0)))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy([]any{}))
}

func TestDivisionByZero(t *testing.T) {
	res := Execute("1 / 0", nil)
	require.False(t, res.Success)
	assert.True(t, strings.Contains(res.Error, "division by zero"))
}
