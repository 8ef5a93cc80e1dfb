package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqual(t *testing.T) {
	assert.True(t, Equal(&Integer{Value: 2}, &Integer{Value: 2}))
	assert.True(t, Equal(&Integer{Value: 2}, &Float{Value: 2}))
	assert.False(t, Equal(&Integer{Value: 2}, &Integer{Value: 3}))
	assert.True(t, Equal(&String{Value: "hi"}, &String{Value: "hi"}))
	assert.False(t, Equal(&String{Value: "hi"}, &String{Value: "bye"}))

	a1 := &Array{Elements: []Value{&Integer{Value: 1}}}
	a2 := &Array{Elements: []Value{&Integer{Value: 1}}}
	assert.True(t, Equal(a1, a1))
	assert.False(t, Equal(a1, a2), "arrays compare by reference identity, not structurally")
}

func TestDictionaryAliasing(t *testing.T) {
	d := NewDictionary(4)
	d.Set("a", &Integer{Value: 1})

	alias := d
	alias.Set("b", &Integer{Value: 2})

	v, ok := d.Get("b")
	require.True(t, ok)
	assert.Equal(t, int32(2), v.(*Integer).Value)
}

func TestClassNewInstance(t *testing.T) {
	class := &Class{
		Name: "Point",
		Members: map[string]Value{
			"x": &Integer{Value: 0},
			"y": &Integer{Value: 0},
		},
	}

	instance := class.NewInstance()
	instance.Set("x", &Integer{Value: 5})

	v, ok := instance.Get("x")
	require.True(t, ok)
	assert.Equal(t, int32(5), v.(*Integer).Value)

	// mutating the instance must not perturb the template.
	assert.Equal(t, int32(0), class.Members["x"].(*Integer).Value)
}

func TestIsTruthy(t *testing.T) {
	assert.True(t, IsTruthy(&Bool{Value: true}))
	assert.False(t, IsTruthy(&Bool{Value: false}))
	assert.True(t, IsTruthy(&Null{}))
	assert.True(t, IsTruthy(&Integer{Value: 0}))
}
