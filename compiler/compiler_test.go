package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbc-lang/orbc/code"
	"github.com/orbc-lang/orbc/compiler"
	"github.com/orbc-lang/orbc/object"
)

func mustCompile(t *testing.T, source string) *instructions {
	t.Helper()
	prog, err := compiler.Compile(source)
	require.NoError(t, err)

	fp, ok := prog.Globals["main"].(*object.FunctionPointer)
	require.True(t, ok, "main must compile to a FunctionPointer")
	return &instructions{all: prog.Instructions, entry: fp.Index}
}

// instructions is a small view over a compiled program anchored at one
// function's entry index, since every function's body is packed into the
// program's single flat instruction vector.
type instructions struct {
	all   code.Instructions
	entry int
}

func (i *instructions) from() code.Instructions { return i.all[i.entry:] }

func TestArithmeticPrecedence(t *testing.T) {
	ins := mustCompile(t, `function main() return 2 + 3 * 4 end`).from()

	want := code.Instructions{
		{Op: code.OpPushInteger, Int: 2},
		{Op: code.OpPushInteger, Int: 3},
		{Op: code.OpPushInteger, Int: 4},
		{Op: code.OpMultiply},
		{Op: code.OpAdd},
		{Op: code.OpReturn, Bool: true},
	}
	assert.Equal(t, want, ins)
}

func TestVarDeclAndAssign(t *testing.T) {
	ins := mustCompile(t, `
		function main()
			var x = 1
			x = x + 1
			return x
		end
	`).from()

	want := code.Instructions{
		{Op: code.OpPushInteger, Int: 1},
		{Op: code.OpMoveToLocal, Slot: 0},
		{Op: code.OpLoadLocal, Slot: 0},
		{Op: code.OpPushInteger, Int: 1},
		{Op: code.OpAdd},
		{Op: code.OpMoveToLocal, Slot: 0},
		{Op: code.OpLoadLocal, Slot: 0},
		{Op: code.OpReturn, Bool: true},
	}
	assert.Equal(t, want, ins)
}

func TestIndexAssignOperandOrder(t *testing.T) {
	ins := mustCompile(t, `
		function main()
			var a = [0, 0]
			a[0] = 9
			return a
		end
	`).from()

	// a[0] = 9 lowers to: LoadLocal(a); compile(9); compile(0); SetCollectionItem; MoveToLocal(a).
	want := code.Instructions{
		{Op: code.OpPushInteger, Int: 0},
		{Op: code.OpPushInteger, Int: 0},
		{Op: code.OpCreateCollectionAsArray, Count: 2},
		{Op: code.OpMoveToLocal, Slot: 0},
		{Op: code.OpLoadLocal, Slot: 0},
		{Op: code.OpPushInteger, Int: 9},
		{Op: code.OpPushInteger, Int: 0},
		{Op: code.OpSetCollectionItem},
		{Op: code.OpMoveToLocal, Slot: 0},
		{Op: code.OpLoadLocal, Slot: 0},
		{Op: code.OpReturn, Bool: true},
	}
	assert.Equal(t, want, ins)
}

func TestIfElseJumpTargets(t *testing.T) {
	ins := mustCompile(t, `
		function main()
			if 1 < 2 then
				return 1
			else
				return 2
			end
		end
	`).from()

	for i, instr := range ins {
		if instr.Op == code.OpHalt {
			t.Fatalf("instruction %d is an unpatched placeholder: %+v", i, instr)
		}
	}

	require.Equal(t, code.OpJumpIfFalse, ins[3].Op)
	consequenceEnd := 3 + ins[3].Delta
	require.Equal(t, code.OpJumpForward, ins[consequenceEnd-1].Op)
	alternativeEnd := (consequenceEnd - 1) + ins[consequenceEnd-1].Delta
	assert.Equal(t, len(ins), alternativeEnd)
}

func TestWhileJumpTargets(t *testing.T) {
	ins := mustCompile(t, `
		function main()
			var i = 0
			while i < 3 do
				i = i + 1
			end
			return i
		end
	`).from()

	for i, instr := range ins {
		if instr.Op == code.OpHalt {
			t.Fatalf("instruction %d is an unpatched placeholder: %+v", i, instr)
		}
	}

	var jumpIfFalseAt = -1
	for i, instr := range ins {
		if instr.Op == code.OpJumpIfFalse {
			jumpIfFalseAt = i
			break
		}
	}
	require.NotEqual(t, -1, jumpIfFalseAt)
	require.Equal(t, code.OpJumpBackward, ins[jumpIfFalseAt+ins[jumpIfFalseAt].Delta-1].Op)
}

func TestConstDeclPopulatesGlobals(t *testing.T) {
	prog, err := compiler.Compile(`
		const Pi = 3
		function main() return Pi end
	`)
	require.NoError(t, err)
	assert.Equal(t, &object.Integer{Value: 3}, prog.Globals["Pi"])
}

func TestClassMethodsRegisterQualifiedGlobals(t *testing.T) {
	// Field writes go through index-assignment (self["x"] = ...): dot-chain
	// assignment is left unimplemented per spec.md §9, so `self.x = ...` does
	// not parse. Dot-chain reads (self.x, in Point:sum) are unaffected.
	prog, err := compiler.Compile(`
		class Point
			var x
			var y
		end

		function Point:Point(x, y)
			self["x"] = x
			self["y"] = y
		end

		function Point:sum()
			return self.x + self.y
		end

		function main() return 1 end
	`)
	require.NoError(t, err)

	class, ok := prog.Globals["Point"].(*object.Class)
	require.True(t, ok)
	assert.IsType(t, &object.Null{}, class.Members["x"])
	assert.Equal(t, &object.FunctionRef{Name: "Point.sum"}, class.Members["sum"])

	assert.IsType(t, &object.FunctionPointer{}, prog.Globals["Point.Point"])
	assert.IsType(t, &object.FunctionPointer{}, prog.Globals["Point.sum"])
}

func TestDuplicateVarDeclIsCompileError(t *testing.T) {
	_, err := compiler.Compile(`
		function main()
			var x = 1
			var x = 2
			return x
		end
	`)
	assert.Error(t, err)
}

func TestUnboundLocalIsCompileError(t *testing.T) {
	_, err := compiler.Compile(`
		function main()
			x = 1
			return x
		end
	`)
	assert.Error(t, err)
}

func TestLambdaCompilesAsSeparateFunction(t *testing.T) {
	prog, err := compiler.Compile(`
		function main()
			var f = function(x) return x * x end
			return f(6)
		end
	`)
	require.NoError(t, err)

	found := false
	for name := range prog.Globals {
		if name != "main" {
			if _, ok := prog.Globals[name].(*object.FunctionPointer); ok {
				found = true
			}
		}
	}
	assert.True(t, found, "expected a generated lambda function pointer in globals")
}
