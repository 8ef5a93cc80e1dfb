// Package object defines the runtime value system for the language.
//
// A Value is a tagged variant: Null, Integer, Float, Bool and String are
// copied by value; Array, Dictionary, Object and Class are reference types
// sharing underlying storage through a Go pointer (Go's garbage collector
// supersedes the source language's scoped reference counting — see
// DESIGN.md's Open Questions). FunctionPointer, FunctionRef and Counter are
// internal bookkeeping values that never originate from source literals.
package object

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dolthub/swiss"
)

// Type names a Value's runtime tag.
type Type string

//nolint:revive
const (
	NULL_VALUE             Type = "NULL"
	INTEGER_VALUE          Type = "INTEGER"
	FLOAT_VALUE            Type = "FLOAT"
	BOOL_VALUE             Type = "BOOL"
	STRING_VALUE           Type = "STRING"
	ARRAY_VALUE            Type = "ARRAY"
	DICTIONARY_VALUE       Type = "DICTIONARY"
	OBJECT_VALUE           Type = "OBJECT"
	CLASS_VALUE            Type = "CLASS"
	FUNCTION_POINTER_VALUE Type = "FUNCTION_POINTER"
	FUNCTION_REF_VALUE     Type = "FUNCTION_REF"
	COUNTER_VALUE          Type = "COUNTER"
)

// Value is the base interface implemented by every runtime value.
type Value interface {
	Type() Type
	Inspect() string
}

// Null is the absence of a value.
type Null struct{}

func (n *Null) Type() Type      { return NULL_VALUE }
func (n *Null) Inspect() string { return "null" }

// Integer is a signed 32-bit exact integer.
type Integer struct{ Value int32 }

func (i *Integer) Type() Type      { return INTEGER_VALUE }
func (i *Integer) Inspect() string { return fmt.Sprintf("%d", i.Value) }

// Float is a 32-bit IEEE approximate real.
type Float struct{ Value float32 }

func (f *Float) Type() Type      { return FLOAT_VALUE }
func (f *Float) Inspect() string { return fmt.Sprintf("%g", f.Value) }

// Bool is a truth value.
type Bool struct{ Value bool }

func (b *Bool) Type() Type      { return BOOL_VALUE }
func (b *Bool) Inspect() string { return fmt.Sprintf("%t", b.Value) }

// String is immutable owned text.
type String struct{ Value string }

func (s *String) Type() Type      { return STRING_VALUE }
func (s *String) Inspect() string { return s.Value }

// Array is a shared mutable ordered sequence of values. Assigning an Array
// value copies the pointer, not the backing slice: both names alias the
// same storage.
type Array struct{ Elements []Value }

func (a *Array) Type() Type { return ARRAY_VALUE }
func (a *Array) Inspect() string {
	parts := make([]string, len(a.Elements))
	for i, e := range a.Elements {
		parts[i] = e.Inspect()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Dictionary is a shared mutable mapping from text to Value, backed by a
// swiss-table hash map — this language's dictionaries are indexed and
// iterated on every VM step of a `for x in dict` loop or a `d["k"]` access,
// the same hot path that motivates `_examples/mna-nenuphar`'s analogous
// swiss-backed Map type.
type Dictionary struct{ m *swiss.Map[string, Value] }

// NewDictionary creates an empty Dictionary sized for size entries.
func NewDictionary(size int) *Dictionary {
	if size < 1 {
		size = 1
	}
	return &Dictionary{m: swiss.NewMap[string, Value](uint32(size))}
}

func (d *Dictionary) Type() Type { return DICTIONARY_VALUE }

func (d *Dictionary) Inspect() string {
	keys := d.Keys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		v, _ := d.m.Get(k)
		parts[i] = fmt.Sprintf("%q: %s", k, v.Inspect())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Get returns the value stored under key and whether it was present.
func (d *Dictionary) Get(key string) (Value, bool) { return d.m.Get(key) }

// Set stores value under key, inserting or overwriting.
func (d *Dictionary) Set(key string, value Value) { d.m.Put(key, value) }

// Keys returns the dictionary's keys in sorted order, giving iteration a
// deterministic order even though the underlying table does not guarantee one.
func (d *Dictionary) Keys() []string {
	keys := make([]string, 0, d.m.Count())
	d.m.Iter(func(k string, _ Value) bool {
		keys = append(keys, k)
		return false
	})
	sort.Strings(keys)
	return keys
}

// Class is the shape template of a class: member name to default Value,
// including FunctionRef entries for its methods. Cloned into a fresh Object
// on `new`.
type Class struct {
	Name    string
	Members map[string]Value
}

func (c *Class) Type() Type      { return CLASS_VALUE }
func (c *Class) Inspect() string { return "class " + c.Name }

// NewInstance clones the class template into a fresh Object.
func (c *Class) NewInstance() *Object {
	fields := swiss.NewMap[string, Value](uint32(len(c.Members) + 1))
	for name, v := range c.Members {
		fields.Put(name, v)
	}
	return &Object{Class: c.Name, fields: fields}
}

// Object is a shared mutable instance of a Class: a mapping from field/method
// name to Value.
type Object struct {
	Class  string
	fields *swiss.Map[string, Value]
}

func (o *Object) Type() Type      { return OBJECT_VALUE }
func (o *Object) Inspect() string { return fmt.Sprintf("%s instance", o.Class) }

// Get returns the field or method value stored under name.
func (o *Object) Get(name string) (Value, bool) { return o.fields.Get(name) }

// Set stores value under name.
func (o *Object) Set(name string, value Value) { o.fields.Put(name, value) }

// FunctionPointer is a resolved call target: an absolute index into a
// Program's instruction vector.
type FunctionPointer struct{ Index int }

func (fp *FunctionPointer) Type() Type      { return FUNCTION_POINTER_VALUE }
func (fp *FunctionPointer) Inspect() string { return fmt.Sprintf("function@%d", fp.Index) }

// FunctionRef is an unresolved call target: a global name, late-bound
// against Program.Globals at call time.
type FunctionRef struct{ Name string }

func (fr *FunctionRef) Type() Type      { return FUNCTION_REF_VALUE }
func (fr *FunctionRef) Inspect() string { return "function " + fr.Name }

// Counter is the transient iteration state pushed by IteratorStart and
// consumed by IteratorNext; it never escapes the operand stack into a
// variable slot or a dictionary.
type Counter struct{ Index, Step, End int32 }

func (c *Counter) Type() Type      { return COUNTER_VALUE }
func (c *Counter) Inspect() string { return fmt.Sprintf("counter(%d,%d,%d)", c.Index, c.Step, c.End) }

// Equal implements the value equality rule: structural for scalars,
// reference identity for arrays/dictionaries/objects.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case *Null:
		_, ok := b.(*Null)
		return ok
	case *Integer:
		switch bv := b.(type) {
		case *Integer:
			return av.Value == bv.Value
		case *Float:
			return float32(av.Value) == bv.Value
		}
		return false
	case *Float:
		switch bv := b.(type) {
		case *Float:
			return av.Value == bv.Value
		case *Integer:
			return av.Value == float32(bv.Value)
		}
		return false
	case *Bool:
		bv, ok := b.(*Bool)
		return ok && av.Value == bv.Value
	case *String:
		bv, ok := b.(*String)
		return ok && av.Value == bv.Value
	case *Array:
		bv, ok := b.(*Array)
		return ok && av == bv
	case *Dictionary:
		bv, ok := b.(*Dictionary)
		return ok && av == bv
	case *Object:
		bv, ok := b.(*Object)
		return ok && av == bv
	default:
		return a == b
	}
}

// IsTruthy reports whether v counts as true for a JumpIfFalse test: only
// Bool(false) is falsy; every other value, including Null and 0, is truthy.
func IsTruthy(v Value) bool {
	b, ok := v.(*Bool)
	return !ok || b.Value
}
