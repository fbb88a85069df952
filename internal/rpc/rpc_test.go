package rpc

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestShorten(t *testing.T) {
	assert.Equal(t, "", Shorten(nil))
	assert.Equal(t, `["a",1,true]`, Shorten([]any{"a", 1, true}))

	long := Shorten([]any{strings.Repeat("x", 200)})
	assert.Len(t, long, 80)
	assert.True(t, strings.HasSuffix(long, "..."))
	assert.True(t, strings.HasPrefix(long, `["xxx`))
}

func TestShortenCutsOnRuneBoundary(t *testing.T) {
	// `["` puts every two-byte rune start on an even offset, so the limit lands mid-rune.
	long := Shorten([]any{strings.Repeat("°", 100)})
	assert.True(t, utf8.ValidString(long))
	assert.Len(t, long, 79)
	assert.True(t, strings.HasSuffix(long, "°..."))
}

func TestShortenDoesNotEscapeHTML(t *testing.T) {
	assert.Equal(t, `["<a>"]`, Shorten([]any{"<a>"}))
}

func TestMulticall(t *testing.T) {
	calls := Multicall([]Request{
		{Method: "event", Params: []any{"id", "A:1", "STATE", true}},
		{Method: "event", Params: []any{"id", "A:1", "WORKING", false}},
	})

	assert.Len(t, calls, 2)
	first := calls[0].(map[string]any)
	assert.Equal(t, "event", first["methodName"])
	assert.Equal(t, []any{"id", "A:1", "STATE", true}, first["params"])
}

func TestFaultFromMap(t *testing.T) {
	f, ok := FaultFromMap(map[string]any{"faultCode": -1, "faultString": "boom"})
	assert.True(t, ok)
	assert.Equal(t, -1, f.Code)
	assert.Equal(t, "boom", f.String)
	assert.EqualError(t, f, "rpc fault -1: boom")

	_, ok = FaultFromMap(map[string]any{"faultCode": -1})
	assert.False(t, ok)

	_, ok = FaultFromMap("x")
	assert.False(t, ok)
}
