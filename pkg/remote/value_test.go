package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueAccessors(t *testing.T) {
	obj := Object(0x10, "example.A")
	h, ok := obj.AsObject()
	assert.True(t, ok)
	assert.Equal(t, Handle(0x10), h)
	assert.Equal(t, "example.A@10", obj.String())

	assert.True(t, Object(0, "example.A").IsNull())
	assert.True(t, Array(0, "int[]").IsNull())
	_, ok = Null().AsObject()
	assert.False(t, ok)

	arr, ok := Array(0x20, "int[]").AsObject()
	assert.True(t, ok)
	assert.Equal(t, Handle(0x20), arr)

	s, ok := String("hi").AsString()
	assert.True(t, ok)
	assert.Equal(t, "hi", s)
	_, ok = Int(1).AsString()
	assert.False(t, ok)

	i, ok := Int(-3).AsInt()
	assert.True(t, ok)
	assert.Equal(t, int64(-3), i)
	_, ok = String("3").AsInt()
	assert.False(t, ok)
}

func TestValueString(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Null(), "null"},
		{String("a\"b"), `"a\"b"`},
		{Int(42), "42"},
		{Bool(true), "true"},
		{Array(0xff, "int[]"), "int[]@ff"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.v.String())
		assert.NotEmpty(t, tt.v.Kind.String())
	}
}
