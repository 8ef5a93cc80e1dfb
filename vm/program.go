package vm

import (
	"github.com/orbc-lang/orbc/code"
	"github.com/orbc-lang/orbc/object"
)

// Program is the compiled output the compiler hands to the VM: a single
// flat instruction vector holding every function body back to back, plus
// the global namespace (constants, class templates, function pointers and
// refs) populated at compile time.
type Program struct {
	Instructions code.Instructions
	Globals      map[string]object.Value
}

// NewProgram creates an empty Program ready for the compiler to fill in.
func NewProgram() *Program {
	return &Program{Globals: make(map[string]object.Value)}
}
