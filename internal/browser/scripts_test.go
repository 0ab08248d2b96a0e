package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCall(t *testing.T) {
	got := call(existsJS, `input[name="q"]`)
	assert.Equal(t, `((sel) => document.querySelector(sel) !== null)("input[name=\"q\"]")`, got)

	got = call(`(a, b) => a`, "x", true)
	assert.Equal(t, `((a, b) => a)("x", true)`, got)
}

func TestJSArgEscapesScriptBreakers(t *testing.T) {
	assert.Equal(t, `"\u003c/script\u003e"`, jsArg("</script>"))
	assert.Equal(t, `["a","b"]`, jsArg([]string{"a", "b"}))
}
