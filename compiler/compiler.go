// Package compiler lowers an AST into a vm.Program: a flat instruction
// vector plus a global namespace, in two passes — symbol reservation, then
// per-function emission.
package compiler

import (
	"errors"
	"fmt"
	"sort"

	"github.com/orbc-lang/orbc/ast"
	"github.com/orbc-lang/orbc/code"
	"github.com/orbc-lang/orbc/lexer"
	"github.com/orbc-lang/orbc/object"
	"github.com/orbc-lang/orbc/parser"
	"github.com/orbc-lang/orbc/vm"
)

var binaryOpcodes = map[string]code.Opcode{
	"+":  code.OpAdd,
	"-":  code.OpSub,
	"*":  code.OpMultiply,
	"/":  code.OpDivide,
	"^":  code.OpPow,
	"==": code.OpEqual,
	"!=": code.OpNotEqual,
	"<":  code.OpLessThan,
	"<=": code.OpLessThanOrEqual,
	">":  code.OpGreaterThan,
	">=": code.OpGreaterThanOrEqual,
}

// Compile parses and compiles source in one step — the `compile(source)`
// half of the embedding contract. Parse errors from every failed
// production are joined into a single error rather than only the first.
func Compile(source string) (*vm.Program, error) {
	l := lexer.New(source)
	p := parser.New(l)
	program := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	c := New()
	return c.CompileProgram(program)
}

// Compiler lowers a parsed Program (the AST root) to a vm.Program. It
// holds no state across calls to CompileProgram; all per-function state
// lives in funcCompiler.
type Compiler struct{}

// New creates a Compiler.
func New() *Compiler { return &Compiler{} }

// CompileProgram runs both compiler passes over the top-level forms.
func (c *Compiler) CompileProgram(program *ast.Program) (*vm.Program, error) {
	prog := vm.NewProgram()
	if err := c.reserveSymbols(program, prog); err != nil {
		return nil, err
	}
	if err := c.emit(program, prog); err != nil {
		return nil, err
	}
	return prog, nil
}

// reserveSymbols is pass 1: scalar constants go straight into globals,
// classes get a fully-built template (fields default Null, methods as
// FunctionRef), and every function (free or class-qualified) reserves a
// placeholder global entry that pass 2 overwrites with its real entry
// index.
func (c *Compiler) reserveSymbols(program *ast.Program, prog *vm.Program) error {
	for _, stmt := range program.Statements {
		switch s := stmt.(type) {
		case *ast.Comment:
			// nothing
		case *ast.ConstDecl:
			v, err := literalValue(s.Value)
			if err != nil {
				return fmt.Errorf("const %s: %w", s.Name.Value, err)
			}
			prog.Globals[s.Name.Value] = v
		case *ast.ClassDecl:
			members := make(map[string]object.Value, len(s.Members))
			for _, m := range s.Members {
				switch {
				case m.Field != nil:
					members[m.Field.Value] = &object.Null{}
				case m.Method != nil:
					members[m.Method.Name.Value] = &object.FunctionRef{
						Name: s.Name.Value + "." + m.Method.Name.Value,
					}
				case m.Comment != nil:
					// nothing
				default:
					return fmt.Errorf("class %s: class-body item that is not a variable or function", s.Name.Value)
				}
			}
			prog.Globals[s.Name.Value] = &object.Class{Name: s.Name.Value, Members: members}
		case *ast.FunctionDecl:
			if s.ClassName == "" {
				prog.Globals[s.Name.Value] = &object.FunctionPointer{Index: 0}
				continue
			}
			qualified := s.ClassName + "." + s.Name.Value
			prog.Globals[qualified] = &object.FunctionPointer{Index: 0}
			class, ok := prog.Globals[s.ClassName].(*object.Class)
			if !ok {
				class = &object.Class{Name: s.ClassName, Members: make(map[string]object.Value)}
				prog.Globals[s.ClassName] = class
			}
			class.Members[s.Name.Value] = &object.FunctionRef{Name: qualified}
		default:
			return fmt.Errorf("malformed top-level form: %T", stmt)
		}
	}
	return nil
}

// literalValue converts a const initialiser's AST literal to its runtime
// Value. Pass 1 only accepts scalar literals.
func literalValue(expr ast.Expression) (object.Value, error) {
	switch e := expr.(type) {
	case *ast.IntegerLiteral:
		return &object.Integer{Value: e.Value}, nil
	case *ast.FloatLiteral:
		return &object.Float{Value: e.Value}, nil
	case *ast.StringLiteral:
		return &object.String{Value: e.Value}, nil
	case *ast.BooleanLiteral:
		return &object.Bool{Value: e.Value}, nil
	case *ast.NullLiteral:
		return &object.Null{}, nil
	default:
		return nil, fmt.Errorf("constant initialiser must be a scalar literal, got %T", expr)
	}
}

// emit is pass 2: every function and method body is compiled and appended
// to the program's flat instruction vector, and its placeholder global
// entry is overwritten with the real entry index.
func (c *Compiler) emit(program *ast.Program, prog *vm.Program) error {
	for _, stmt := range program.Statements {
		switch s := stmt.(type) {
		case *ast.ClassDecl:
			for _, m := range s.Members {
				if m.Method == nil {
					continue
				}
				qualified := s.Name.Value + "." + m.Method.Name.Value
				params := append([]*ast.Identifier{{Value: "self"}}, m.Method.Parameters...)
				instr, lambdas, err := c.compileFunction(params, m.Method.Body, qualified)
				if err != nil {
					return fmt.Errorf("method %s: %w", qualified, err)
				}
				entry := len(prog.Instructions)
				prog.Globals[qualified] = &object.FunctionPointer{Index: entry}
				prog.Instructions = append(prog.Instructions, instr...)
				appendLambdas(prog, lambdas)
			}
		case *ast.FunctionDecl:
			params := s.Parameters
			key := s.Name.Value
			if s.ClassName != "" {
				key = s.ClassName + "." + s.Name.Value
				params = append([]*ast.Identifier{{Value: "self"}}, s.Parameters...)
			}
			instr, lambdas, err := c.compileFunction(params, s.Body, key)
			if err != nil {
				return fmt.Errorf("function %s: %w", key, err)
			}
			entry := len(prog.Instructions)
			prog.Globals[key] = &object.FunctionPointer{Index: entry}
			prog.Instructions = append(prog.Instructions, instr...)
			appendLambdas(prog, lambdas)
		}
	}
	return nil
}

// appendLambdas appends each anonymous-function body accumulated while
// compiling a function, registering each under its generated name as a
// global function pointer. Sorted by name for deterministic output —
// these names are synthetic and never referenced by source, so only
// reproducibility (stable disassembly, stable tests) is at stake.
func appendLambdas(prog *vm.Program, lambdas map[string]code.Instructions) {
	names := make([]string, 0, len(lambdas))
	for name := range lambdas {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		entry := len(prog.Instructions)
		prog.Globals[name] = &object.FunctionPointer{Index: entry}
		prog.Instructions = append(prog.Instructions, lambdas[name]...)
	}
}

// compileFunction compiles one function body in a fresh per-function
// scope: parameters pre-registered as slots 0..n-1, then the body. The
// final instruction is forced to a Return if the body doesn't already end
// with one, satisfying the invariant that the VM never falls off the end
// of the instruction vector. Any lambdas found nested in the body (and,
// transitively, in lambdas nested in those lambdas) are returned alongside
// for the caller to append to the program.
func (c *Compiler) compileFunction(
	params []*ast.Identifier, body *ast.BlockStatement, namePrefix string,
) (code.Instructions, map[string]code.Instructions, error) {
	fc := &funcCompiler{
		symbols:    NewSymbolTable(),
		lambdas:    make(map[string]code.Instructions),
		namePrefix: namePrefix,
		compiler:   c,
	}
	for _, p := range params {
		if _, err := fc.symbols.Define(p.Value); err != nil {
			return nil, nil, err
		}
	}

	instr, err := fc.compileBlock(body)
	if err != nil {
		return nil, nil, err
	}
	if len(instr) == 0 || instr[len(instr)-1].Op != code.OpReturn {
		instr = append(instr, code.Instruction{Op: code.OpReturn, Bool: false})
	}
	return instr, fc.lambdas, nil
}

// funcCompiler holds the state for compiling a single function body: its
// local-slot table and the anonymous functions it discovers along the way.
type funcCompiler struct {
	symbols    *SymbolTable
	lambdas    map[string]code.Instructions
	lambdaSeq  int
	namePrefix string
	compiler   *Compiler
}

func (fc *funcCompiler) compileBlock(block *ast.BlockStatement) (code.Instructions, error) {
	var out code.Instructions
	for _, stmt := range block.Statements {
		instr, err := fc.compileStatement(stmt)
		if err != nil {
			return nil, err
		}
		out = append(out, instr...)
	}
	return out, nil
}

func (fc *funcCompiler) compileStatement(stmt ast.Statement) (code.Instructions, error) {
	switch s := stmt.(type) {
	case *ast.Comment:
		return nil, nil

	case *ast.VarDecl:
		var out code.Instructions
		if s.Value != nil {
			instr, err := fc.compileExpression(s.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, instr...)
		} else {
			out = append(out, code.Instruction{Op: code.OpPushNull})
		}
		slot, err := fc.symbols.Define(s.Name.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, code.Instruction{Op: code.OpMoveToLocal, Slot: slot})
		return out, nil

	case *ast.Assign:
		slot, ok := fc.symbols.Resolve(s.Name.Value)
		if !ok {
			return nil, fmt.Errorf("use of an unbound local: %s", s.Name.Value)
		}
		instr, err := fc.compileExpression(s.Value)
		if err != nil {
			return nil, err
		}
		return append(instr, code.Instruction{Op: code.OpMoveToLocal, Slot: slot}), nil

	case *ast.IndexAssign:
		slot, ok := fc.symbols.Resolve(s.Collection.Value)
		if !ok {
			return nil, fmt.Errorf("use of an unbound local: %s", s.Collection.Value)
		}
		var out code.Instructions
		out = append(out, code.Instruction{Op: code.OpLoadLocal, Slot: slot})
		valInstr, err := fc.compileExpression(s.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, valInstr...)
		keyInstr, err := fc.compileExpression(s.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, keyInstr...)
		out = append(out, code.Instruction{Op: code.OpSetCollectionItem})
		out = append(out, code.Instruction{Op: code.OpMoveToLocal, Slot: slot})
		return out, nil

	case *ast.ExpressionStatement:
		// A bare call: no pop — the compiled expression's pushed value (if
		// any) is left for Return semantics to account for.
		return fc.compileExpression(s.Expression)

	case *ast.ReturnStatement:
		if s.ReturnValue == nil {
			return code.Instructions{{Op: code.OpReturn, Bool: false}}, nil
		}
		instr, err := fc.compileExpression(s.ReturnValue)
		if err != nil {
			return nil, err
		}
		return append(instr, code.Instruction{Op: code.OpReturn, Bool: true}), nil

	case *ast.IfElse:
		return fc.compileIfElse(s)

	case *ast.While:
		return fc.compileWhile(s)

	case *ast.ForCounted:
		step := s.Step
		if step == nil {
			step = &ast.IntegerLiteral{Value: 1}
		}
		return fc.compileIterator(s.Variable.Value, s.End, step, s.Start, s.Body)

	case *ast.ForIn:
		return fc.compileIterator(
			s.Variable.Value, s.Collection,
			&ast.IntegerLiteral{Value: 1}, &ast.IntegerLiteral{Value: 0},
			s.Body,
		)

	default:
		return nil, fmt.Errorf("malformed AST shape: %T is not a statement this compiler knows", stmt)
	}
}

// compileIfElse implements the If/else lowering:
// condition, placeholder P1, then-body, placeholder P2, patch P1 to a
// JumpIfFalse past the then-body, else-body, patch P2 to a JumpForward
// past the else-body.
func (fc *funcCompiler) compileIfElse(ie *ast.IfElse) (code.Instructions, error) {
	var out code.Instructions

	cond, err := fc.compileExpression(ie.Condition)
	if err != nil {
		return nil, err
	}
	out = append(out, cond...)

	p1 := len(out)
	out = append(out, code.Instruction{Op: code.OpHalt, Msg: "unreachable: unpatched if/else jump"})

	cons, err := fc.compileBlock(ie.Consequence)
	if err != nil {
		return nil, err
	}
	out = append(out, cons...)

	p2 := len(out)
	out = append(out, code.Instruction{Op: code.OpHalt, Msg: "unreachable: unpatched if/else jump"})

	out[p1] = code.Instruction{Op: code.OpJumpIfFalse, Delta: len(out) - p1}

	if ie.Alternative != nil {
		alt, err := fc.compileBlock(ie.Alternative)
		if err != nil {
			return nil, err
		}
		out = append(out, alt...)
	}

	out[p2] = code.Instruction{Op: code.OpJumpForward, Delta: len(out) - p2}
	return out, nil
}

// compileWhile implements the While lowering of §4.2.2.
func (fc *funcCompiler) compileWhile(w *ast.While) (code.Instructions, error) {
	const s = 0 // the loop's own instruction buffer always starts at 0
	var out code.Instructions

	cond, err := fc.compileExpression(w.Condition)
	if err != nil {
		return nil, err
	}
	out = append(out, cond...)

	p := len(out)
	out = append(out, code.Instruction{Op: code.OpHalt, Msg: "unreachable: unpatched while jump"})

	body, err := fc.compileBlock(w.Body)
	if err != nil {
		return nil, err
	}
	out = append(out, body...)

	out = append(out, code.Instruction{Op: code.OpJumpBackward, Delta: len(out) - s})
	out[p] = code.Instruction{Op: code.OpJumpIfFalse, Delta: len(out) - p}
	return out, nil
}

// compileIterator implements the single iterator construct of §4.2.4 that
// backs both counted and collection for-loops: push collection/bound,
// step, start; IteratorStart; placeholder P; body; JumpBackward; patch P
// to IteratorNext(slot, delta).
func (fc *funcCompiler) compileIterator(
	varName string, collectionExpr, stepExpr, startExpr ast.Expression, body *ast.BlockStatement,
) (code.Instructions, error) {
	var out code.Instructions

	collInstr, err := fc.compileExpression(collectionExpr)
	if err != nil {
		return nil, err
	}
	out = append(out, collInstr...)

	stepInstr, err := fc.compileExpression(stepExpr)
	if err != nil {
		return nil, err
	}
	out = append(out, stepInstr...)

	startInstr, err := fc.compileExpression(startExpr)
	if err != nil {
		return nil, err
	}
	out = append(out, startInstr...)

	out = append(out, code.Instruction{Op: code.OpIteratorStart})

	// A loop variable reuses its slot across sibling loops in the same
	// function instead of erroring as a duplicate declaration.
	varSlot := fc.symbols.DefineOrResolve(varName)

	p := len(out)
	out = append(out, code.Instruction{Op: code.OpHalt, Msg: "unreachable: unpatched iterator jump"})

	bodyInstr, err := fc.compileBlock(body)
	if err != nil {
		return nil, err
	}
	out = append(out, bodyInstr...)

	out = append(out, code.Instruction{Op: code.OpJumpBackward, Delta: len(out) - p})
	out[p] = code.Instruction{Op: code.OpIteratorNext, Slot: varSlot, Delta: len(out) - p}
	return out, nil
}

func (fc *funcCompiler) compileExpression(expr ast.Expression) (code.Instructions, error) {
	switch e := expr.(type) {
	case *ast.IntegerLiteral:
		return code.Instructions{{Op: code.OpPushInteger, Int: e.Value}}, nil

	case *ast.FloatLiteral:
		return code.Instructions{{Op: code.OpPushFloat, Float: e.Value}}, nil

	case *ast.StringLiteral:
		return code.Instructions{{Op: code.OpPushString, Str: e.Value}}, nil

	case *ast.BooleanLiteral:
		return code.Instructions{{Op: code.OpPushBool, Bool: e.Value}}, nil

	case *ast.NullLiteral:
		return code.Instructions{{Op: code.OpPushNull}}, nil

	case *ast.Identifier:
		if slot, ok := fc.symbols.Resolve(e.Value); ok {
			return code.Instructions{{Op: code.OpLoadLocal, Slot: slot}}, nil
		}
		return code.Instructions{{Op: code.OpLoadGlobal, Str: e.Value}}, nil

	case *ast.ArrayLit:
		var out code.Instructions
		for _, el := range e.Elements {
			instr, err := fc.compileExpression(el)
			if err != nil {
				return nil, err
			}
			out = append(out, instr...)
		}
		out = append(out, code.Instruction{Op: code.OpCreateCollectionAsArray, Count: len(e.Elements)})
		return out, nil

	case *ast.DictLit:
		var out code.Instructions
		for _, pair := range e.Pairs {
			out = append(out, code.Instruction{Op: code.OpPushString, Str: pair.Key})
			instr, err := fc.compileExpression(pair.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, instr...)
		}
		out = append(out, code.Instruction{Op: code.OpCreateCollectionAsDictionary, Count: len(e.Pairs)})
		return out, nil

	case *ast.Index:
		var out code.Instructions
		collInstr, err := fc.compileExpression(e.Collection)
		if err != nil {
			return nil, err
		}
		out = append(out, collInstr...)
		keyInstr, err := fc.compileExpression(e.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, keyInstr...)
		out = append(out, code.Instruction{Op: code.OpGetCollectionItem})
		return out, nil

	case *ast.BinaryExpr:
		return fc.compileBinaryExpr(e)

	case *ast.Call:
		return fc.compileCall(e)

	case *ast.DotChain:
		return fc.compileDotChain(e)

	case *ast.NewObject:
		var out code.Instructions
		for _, a := range e.Arguments {
			instr, err := fc.compileExpression(a)
			if err != nil {
				return nil, err
			}
			out = append(out, instr...)
		}
		out = append(out, code.Instruction{Op: code.OpCreateObject, Str: e.ClassName, Count: len(e.Arguments)})
		return out, nil

	case *ast.Lambda:
		return fc.compileLambda(e)

	default:
		return nil, fmt.Errorf("malformed AST shape: %T is not an expression this compiler knows", expr)
	}
}

func (fc *funcCompiler) compileBinaryExpr(e *ast.BinaryExpr) (code.Instructions, error) {
	op, ok := binaryOpcodes[e.Operator]
	if !ok {
		return nil, fmt.Errorf("unknown operator %q", e.Operator)
	}
	left, err := fc.compileExpression(e.Left)
	if err != nil {
		return nil, err
	}
	right, err := fc.compileExpression(e.Right)
	if err != nil {
		return nil, err
	}
	out := append(left, right...)
	return append(out, code.Instruction{Op: op}), nil
}

// compileCall implements §4.2.3: push the callee reference (a local-var
// load if the name shadows a local, otherwise a late-bound FunctionRef),
// then each argument in order, then Call(argc).
func (fc *funcCompiler) compileCall(e *ast.Call) (code.Instructions, error) {
	var out code.Instructions

	if callee, ok := e.Callee.(*ast.Identifier); ok {
		if slot, ok := fc.symbols.Resolve(callee.Value); ok {
			out = append(out, code.Instruction{Op: code.OpLoadLocal, Slot: slot})
		} else {
			out = append(out, code.Instruction{Op: code.OpPushFunctionRef, Str: callee.Value})
		}
	} else {
		calleeInstr, err := fc.compileExpression(e.Callee)
		if err != nil {
			return nil, err
		}
		out = append(out, calleeInstr...)
	}

	for _, a := range e.Arguments {
		instr, err := fc.compileExpression(a)
		if err != nil {
			return nil, err
		}
		out = append(out, instr...)
	}
	out = append(out, code.Instruction{Op: code.OpCall, Count: len(e.Arguments)})
	return out, nil
}

// compileDotChain walks a.b.c, lowering each plain identifier segment as
// a field read (push key, GetCollectionItem) and, when the chain's final
// segment is a call, dispatching it through the method-call protocol of
// §4.2.5. A call segment may only appear last. An Index segment (`a.b[k]`,
// which the parser does produce) is not lowered: compiling one is an error.
// Assignment through a dot chain is left unimplemented, per spec.md §9's
// explicit either/or ("complete it, or reject it") — the parser never
// produces a dot chain on the left-hand side of `=`. A
// field is instead written through index-assignment (`obj["field"] = v`),
// which already lowers to SetCollectionItem on an Object (see DESIGN.md).
func (fc *funcCompiler) compileDotChain(dc *ast.DotChain) (code.Instructions, error) {
	out, err := fc.compileExpression(dc.Head)
	if err != nil {
		return nil, err
	}

	for i, seg := range dc.Segments {
		last := i == len(dc.Segments)-1
		switch s := seg.(type) {
		case *ast.Identifier:
			out = append(out, code.Instruction{Op: code.OpPushString, Str: s.Value})
			out = append(out, code.Instruction{Op: code.OpGetCollectionItem})

		case *ast.Call:
			if !last {
				return nil, fmt.Errorf("malformed AST shape: a dot-chain call must be its final segment")
			}
			name, ok := s.Callee.(*ast.Identifier)
			if !ok {
				return nil, fmt.Errorf("malformed AST shape: dot-chain method name must be an identifier")
			}
			out = append(out, code.Instruction{Op: code.OpLoadMethod, Str: name.Value})
			for _, a := range s.Arguments {
				instr, err := fc.compileExpression(a)
				if err != nil {
					return nil, err
				}
				out = append(out, instr...)
			}
			out = append(out, code.Instruction{Op: code.OpCall, Count: len(s.Arguments) + 1})

		default:
			return nil, fmt.Errorf("malformed AST shape: unsupported dot-chain segment %T", seg)
		}
	}
	return out, nil
}

// compileLambda compiles an anonymous function as a separate, uniquely
// named procedure (this language's closures don't capture enclosing
// locals — see DESIGN.md) and pushes a FunctionRef to it as the
// expression's value.
func (fc *funcCompiler) compileLambda(l *ast.Lambda) (code.Instructions, error) {
	name := fmt.Sprintf("%s$lambda_%d", fc.namePrefix, fc.lambdaSeq)
	fc.lambdaSeq++

	instr, nested, err := fc.compiler.compileFunction(l.Parameters, l.Body, name)
	if err != nil {
		return nil, err
	}
	fc.lambdas[name] = instr
	for n, ni := range nested {
		fc.lambdas[n] = ni
	}
	return code.Instructions{{Op: code.OpPushFunctionRef, Str: name}}, nil
}
