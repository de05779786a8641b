package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAttribute(t *testing.T) {
	v := Map(map[string]Value{
		"id":   String("A"),
		"size": Int(42),
	})

	attr, ok := v.GetAttribute("id")
	require.True(t, ok)
	assert.Equal(t, "A", attr.Str)

	_, ok = v.GetAttribute("missing")
	assert.False(t, ok)
}

func TestGetAttributeNonMap(t *testing.T) {
	_, ok := String("x").GetAttribute("id")
	assert.False(t, ok)

	_, ok = Null.GetAttribute("id")
	assert.False(t, ok)
}

func TestJSONRoundTrip(t *testing.T) {
	v := Map(map[string]Value{
		"id":      String("A"),
		"count":   Int(7),
		"ok":      Bool(true),
		"nested":  Map(map[string]Value{"x": String("y")}),
		"tags":    List(String("a"), String("b")),
		"missing": Null,
	})

	data, err := json.Marshal(v)
	require.NoError(t, err)

	var out Value
	require.NoError(t, json.Unmarshal(data, &out))

	attr, ok := out.GetAttribute("id")
	require.True(t, ok)
	assert.Equal(t, "A", attr.Str)

	count, ok := out.GetAttribute("count")
	require.True(t, ok)
	assert.Equal(t, int64(7), count.Int)

	nested, ok := out.GetAttribute("nested")
	require.True(t, ok)
	inner, ok := nested.GetAttribute("x")
	require.True(t, ok)
	assert.Equal(t, "y", inner.Str)
}

func TestStructRoundTrip(t *testing.T) {
	v := Map(map[string]Value{
		"id":   String("A"),
		"size": Int(10),
		"ok":   Bool(false),
		"tags": List(String("a")),
	})

	s, err := ToStruct(v)
	require.NoError(t, err)

	out := FromStruct(s)
	attr, ok := out.GetAttribute("id")
	require.True(t, ok)
	assert.Equal(t, "A", attr.Str)

	size, ok := out.GetAttribute("size")
	require.True(t, ok)
	assert.Equal(t, int64(10), size.Int)
}
