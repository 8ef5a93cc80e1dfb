// Package code defines the bytecode instruction set shared by the compiler
// and the virtual machine.
//
// Unlike a byte-packed instruction stream with a separate constant pool,
// instructions here are typed Go structs carrying their operands directly
// (inline string/float/bool literals, global names, jump deltas) — see
// DESIGN.md for why the constant-pool-plus-byte-stream design doesn't fit
// this instruction set. The opcode catalog, per-opcode naming and the
// disassembly convention still follow the source this was adapted from.
package code

import (
	"fmt"
	"strings"
)

// Opcode names a single bytecode operation.
type Opcode byte

//nolint:revive
const (
	OpPushNull Opcode = iota
	OpPushInteger
	OpPushFloat
	OpPushBool
	OpPushString
	OpPushFunctionRef

	OpMoveToLocal
	OpLoadLocal
	OpLoadGlobal

	OpJumpForward
	OpJumpBackward
	OpJumpIfFalse

	OpCall
	OpReturn

	OpCreateCollectionAsArray
	OpCreateCollectionAsDictionary
	OpGetCollectionItem
	OpSetCollectionItem
	OpLoadMethod
	OpCreateObject

	OpIteratorStart
	OpIteratorNext

	OpAdd
	OpSub
	OpMultiply
	OpDivide
	OpPow

	OpEqual
	OpNotEqual
	OpLessThan
	OpLessThanOrEqual
	OpGreaterThan
	OpGreaterThanOrEqual

	OpHalt
)

var opcodeNames = map[Opcode]string{
	OpPushNull:        "PushNull",
	OpPushInteger:     "PushInteger",
	OpPushFloat:       "PushFloat",
	OpPushBool:        "PushBool",
	OpPushString:      "PushString",
	OpPushFunctionRef: "PushFunctionRef",

	OpMoveToLocal: "MoveToLocal",
	OpLoadLocal:   "LoadLocal",
	OpLoadGlobal:  "LoadGlobal",

	OpJumpForward: "JumpForward",
	OpJumpBackward: "JumpBackward",
	OpJumpIfFalse: "JumpIfFalse",

	OpCall:   "Call",
	OpReturn: "Return",

	OpCreateCollectionAsArray:      "CreateCollectionAsArray",
	OpCreateCollectionAsDictionary: "CreateCollectionAsDictionary",
	OpGetCollectionItem:            "GetCollectionItem",
	OpSetCollectionItem:            "SetCollectionItem",
	OpLoadMethod:                   "LoadMethod",
	OpCreateObject:                 "CreateObject",

	OpIteratorStart: "IteratorStart",
	OpIteratorNext:  "IteratorNext",

	OpAdd:      "Add",
	OpSub:      "Sub",
	OpMultiply: "Multiply",
	OpDivide:   "Divide",
	OpPow:      "Pow",

	OpEqual:              "Equal",
	OpNotEqual:            "NotEqual",
	OpLessThan:            "LessThan",
	OpLessThanOrEqual:     "LessThanOrEqual",
	OpGreaterThan:         "GreaterThan",
	OpGreaterThanOrEqual:  "GreaterThanOrEqual",

	OpHalt: "Halt",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("OPCODE(%d)", op)
}

// Instruction is one bytecode instruction: an opcode plus whichever typed
// operand fields it uses. Only the fields relevant to Op are populated; the
// rest carry their zero value.
type Instruction struct {
	Op Opcode

	Int    int32   // OpPushInteger
	Float  float32 // OpPushFloat
	Bool   bool    // OpPushBool, OpReturn (whether a return value is popped)
	Str    string  // OpPushString, OpPushFunctionRef, OpLoadGlobal, OpLoadMethod, OpCreateObject (class name)
	Slot   int     // OpMoveToLocal, OpLoadLocal, OpIteratorNext (loop variable slot)
	Count  int     // OpCall, OpCreateCollectionAsArray, OpCreateCollectionAsDictionary, OpCreateObject (argc)
	Delta  int     // OpJumpForward, OpJumpBackward, OpJumpIfFalse, OpIteratorNext (jump target delta)
	Msg    string  // OpHalt
}

// Instructions is a flat, linearly addressed sequence of instructions. A
// Program's Instructions holds every function body back to back; absolute
// indices into this slice serve as FunctionPointer values and jump targets.
type Instructions []Instruction

// String renders a disassembly listing, one instruction per line, in the
// same "OFFSET OPNAME operands" shape the byte-packed disassembler used.
func (ins Instructions) String() string {
	var out strings.Builder
	for i, instr := range ins {
		fmt.Fprintf(&out, "%04d %s\n", i, fmtInstruction(instr))
	}
	return out.String()
}

func fmtInstruction(instr Instruction) string {
	switch instr.Op {
	case OpPushInteger:
		return fmt.Sprintf("%s %d", instr.Op, instr.Int)
	case OpPushFloat:
		return fmt.Sprintf("%s %g", instr.Op, instr.Float)
	case OpPushBool:
		return fmt.Sprintf("%s %t", instr.Op, instr.Bool)
	case OpPushString, OpPushFunctionRef, OpLoadGlobal:
		return fmt.Sprintf("%s %q", instr.Op, instr.Str)
	case OpLoadMethod:
		return fmt.Sprintf("%s %q", instr.Op, instr.Str)
	case OpMoveToLocal, OpLoadLocal:
		return fmt.Sprintf("%s %d", instr.Op, instr.Slot)
	case OpJumpForward, OpJumpBackward, OpJumpIfFalse:
		return fmt.Sprintf("%s %d", instr.Op, instr.Delta)
	case OpCall, OpCreateCollectionAsArray, OpCreateCollectionAsDictionary:
		return fmt.Sprintf("%s %d", instr.Op, instr.Count)
	case OpReturn:
		return fmt.Sprintf("%s %t", instr.Op, instr.Bool)
	case OpCreateObject:
		return fmt.Sprintf("%s %q %d", instr.Op, instr.Str, instr.Count)
	case OpIteratorNext:
		return fmt.Sprintf("%s %d %d", instr.Op, instr.Slot, instr.Delta)
	case OpHalt:
		return fmt.Sprintf("%s %q", instr.Op, instr.Msg)
	default:
		return instr.Op.String()
	}
}
