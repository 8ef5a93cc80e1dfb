package object

import "fmt"

// Builtin is a native function registered by the embedder or the language
// runtime itself, callable from scripts by name. It returns an optional
// Value (nil means "no return value") and an error for a failed assertion
// or bad argument.
type Builtin struct {
	Fn func(args ...Value) (Value, error)
}

func (b *Builtin) Type() Type      { return "BUILTIN" }
func (b *Builtin) Inspect() string { return "builtin function" }

// Builtins is the language's built-in surface: print, assertTrue and
// assertEquals, whose behaviour SPEC_FULL.md §4 describes. The language
// adds no further built-ins (no len/first/rest/last/push, unlike the
// Monkey-language source this package's shape is grounded on) — see
// DESIGN.md.
var Builtins = []struct {
	Name    string
	Builtin *Builtin
}{
	{
		"print",
		&Builtin{Fn: func(args ...Value) (Value, error) {
			for _, a := range args {
				fmt.Println(a.Inspect())
			}
			return nil, nil
		}},
	},
	{
		"assertTrue",
		&Builtin{Fn: func(args ...Value) (Value, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("assertTrue: wrong number of arguments, got=%d, want=1", len(args))
			}
			b, ok := args[0].(*Bool)
			if !ok || !b.Value {
				return nil, fmt.Errorf("assertTrue: assertion failed, got %s", args[0].Inspect())
			}
			return nil, nil
		}},
	},
	{
		"assertEquals",
		&Builtin{Fn: func(args ...Value) (Value, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("assertEquals: wrong number of arguments, got=%d, want=2", len(args))
			}
			if !Equal(args[0], args[1]) {
				return nil, fmt.Errorf("assertEquals: %s != %s", args[0].Inspect(), args[1].Inspect())
			}
			return nil, nil
		}},
	},
}
