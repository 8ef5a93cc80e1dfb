// Package vm executes a compiled Program: a single fetch-decode-execute
// loop over a flat instruction vector, with one handler per opcode.
package vm

import (
	"fmt"
	"math"

	"github.com/orbc-lang/orbc/code"
	"github.com/orbc-lang/orbc/object"
)

// StackSize bounds the VM's operand stack.
const StackSize = 2048

// VM executes a Program. A single instance is reused across calls to
// Execute; each call resets its stack and frames.
type VM struct {
	program *Program

	stack []object.Value
	sp    int

	frames []*Frame
	ip     int

	builtins map[string]*object.Builtin

	result    object.Value
	hasResult bool
}

// New creates a VM with the language's built-in surface (print,
// assertTrue, assertEquals) already registered.
func New() *VM {
	vm := &VM{builtins: make(map[string]*object.Builtin)}
	for _, def := range object.Builtins {
		vm.builtins[def.Name] = def.Builtin
	}
	return vm
}

// RegisterBuiltin associates name with a native callable, per the
// embedding contract's `vm.registerBuiltin`. Call prefers a registered
// builtin over a same-named global function.
func (vm *VM) RegisterBuiltin(name string, fn func(args ...object.Value) (object.Value, error)) {
	vm.builtins[name] = &object.Builtin{Fn: fn}
}

// Execute runs program starting at entrypoint (default "main") with args
// bound to its parameter slots, and returns the value the root frame
// returned, if any. This is `vm.execute` from the embedding contract.
func (vm *VM) Execute(program *Program, args []object.Value, entrypoint string) (object.Value, error) {
	if entrypoint == "" {
		entrypoint = "main"
	}
	g, ok := program.Globals[entrypoint]
	if !ok {
		return nil, fmt.Errorf("no entrypoint: %s", entrypoint)
	}
	fp, ok := g.(*object.FunctionPointer)
	if !ok {
		return nil, fmt.Errorf("no entrypoint: %s is not a function", entrypoint)
	}

	vm.program = program
	vm.stack = make([]object.Value, StackSize)
	vm.sp = 0
	vm.frames = nil
	vm.result = nil
	vm.hasResult = false
	vm.ip = fp.Index

	root := NewFrame(len(args), 0, true, 0)
	for i, a := range args {
		root.Set(i, a)
	}
	vm.pushFrame(root)

	if err := vm.run(); err != nil {
		return nil, err
	}
	if vm.hasResult {
		return vm.result, nil
	}
	return nil, nil
}

func (vm *VM) run() error {
	for vm.ip < len(vm.program.Instructions) {
		instr := vm.program.Instructions[vm.ip]

		switch instr.Op {
		case code.OpPushNull:
			if err := vm.push(&object.Null{}); err != nil {
				return err
			}
			vm.ip++

		case code.OpPushInteger:
			if err := vm.push(&object.Integer{Value: instr.Int}); err != nil {
				return err
			}
			vm.ip++

		case code.OpPushFloat:
			if err := vm.push(&object.Float{Value: instr.Float}); err != nil {
				return err
			}
			vm.ip++

		case code.OpPushBool:
			if err := vm.push(&object.Bool{Value: instr.Bool}); err != nil {
				return err
			}
			vm.ip++

		case code.OpPushString:
			if err := vm.push(&object.String{Value: instr.Str}); err != nil {
				return err
			}
			vm.ip++

		case code.OpPushFunctionRef:
			if err := vm.push(&object.FunctionRef{Name: instr.Str}); err != nil {
				return err
			}
			vm.ip++

		case code.OpMoveToLocal:
			v, err := vm.pop()
			if err != nil {
				return err
			}
			vm.currentFrame().Set(instr.Slot, v)
			vm.ip++

		case code.OpLoadLocal:
			v, ok := vm.currentFrame().Get(instr.Slot)
			if !ok {
				return fmt.Errorf("use of an unbound local at slot %d", instr.Slot)
			}
			if err := vm.push(v); err != nil {
				return err
			}
			vm.ip++

		case code.OpLoadGlobal:
			v, ok := vm.program.Globals[instr.Str]
			if !ok {
				return fmt.Errorf("missing global: %s", instr.Str)
			}
			if err := vm.push(v); err != nil {
				return err
			}
			vm.ip++

		case code.OpJumpForward:
			vm.ip += instr.Delta

		case code.OpJumpBackward:
			vm.ip -= instr.Delta

		case code.OpJumpIfFalse:
			v, err := vm.pop()
			if err != nil {
				return err
			}
			if object.IsTruthy(v) {
				vm.ip++
			} else {
				vm.ip += instr.Delta
			}

		case code.OpCall:
			if err := vm.execCall(instr.Count); err != nil {
				return err
			}

		case code.OpReturn:
			done, err := vm.execReturn(instr.Bool)
			if err != nil {
				return err
			}
			if done {
				return nil
			}

		case code.OpCreateCollectionAsArray:
			if err := vm.execCreateArray(instr.Count); err != nil {
				return err
			}
			vm.ip++

		case code.OpCreateCollectionAsDictionary:
			if err := vm.execCreateDictionary(instr.Count); err != nil {
				return err
			}
			vm.ip++

		case code.OpGetCollectionItem:
			if err := vm.execGetItem(); err != nil {
				return err
			}
			vm.ip++

		case code.OpSetCollectionItem:
			if err := vm.execSetItem(); err != nil {
				return err
			}
			vm.ip++

		case code.OpLoadMethod:
			if err := vm.execLoadMethod(instr.Str); err != nil {
				return err
			}
			vm.ip++

		case code.OpCreateObject:
			if err := vm.execCreateObject(instr.Str, instr.Count); err != nil {
				return err
			}

		case code.OpIteratorStart:
			if err := vm.execIteratorStart(); err != nil {
				return err
			}
			vm.ip++

		case code.OpIteratorNext:
			if err := vm.execIteratorNext(instr.Slot, instr.Delta); err != nil {
				return err
			}

		case code.OpAdd, code.OpSub, code.OpMultiply, code.OpDivide, code.OpPow:
			if err := vm.execArithmetic(instr.Op); err != nil {
				return err
			}
			vm.ip++

		case code.OpEqual, code.OpNotEqual, code.OpLessThan, code.OpLessThanOrEqual,
			code.OpGreaterThan, code.OpGreaterThanOrEqual:
			if err := vm.execComparison(instr.Op); err != nil {
				return err
			}
			vm.ip++

		case code.OpHalt:
			return fmt.Errorf("halt: %s", instr.Msg)

		default:
			return fmt.Errorf("unknown opcode: %s", instr.Op)
		}
	}
	return fmt.Errorf("instruction pointer ran past the end of the program without a Return")
}

// execCall implements §4.2.3/§4.3.1's Call(n): pop n args (reversed back
// to source order), pop the callee, and either invoke a builtin inline or
// push a new frame and jump to the target.
func (vm *VM) execCall(argc int) error {
	args := make([]object.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		v, err := vm.pop()
		if err != nil {
			return err
		}
		args[i] = v
	}

	callee, err := vm.pop()
	if err != nil {
		return err
	}

	builtin, fp, err := vm.resolveCallable(callee)
	if err != nil {
		return err
	}
	if builtin != nil {
		ret, err := builtin.Fn(args...)
		if err != nil {
			return err
		}
		if ret != nil {
			if err := vm.push(ret); err != nil {
				return err
			}
		}
		vm.ip++
		return nil
	}

	frame := NewFrame(len(args), vm.ip+1, false, vm.sp)
	for i, a := range args {
		frame.Set(i, a)
	}
	vm.pushFrame(frame)
	vm.ip = fp.Index
	return nil
}

// resolveCallable resolves a callee value to either a builtin or a
// FunctionPointer. A FunctionRef is looked up preferring a registered
// builtin over the same-named global, per §4.3.2.
func (vm *VM) resolveCallable(callee object.Value) (*object.Builtin, *object.FunctionPointer, error) {
	switch c := callee.(type) {
	case *object.FunctionPointer:
		return nil, c, nil
	case *object.FunctionRef:
		if b, ok := vm.builtins[c.Name]; ok {
			return b, nil, nil
		}
		g, ok := vm.program.Globals[c.Name]
		if !ok {
			return nil, nil, fmt.Errorf("unresolved function: %s", c.Name)
		}
		fp, ok := g.(*object.FunctionPointer)
		if !ok {
			return nil, nil, fmt.Errorf("call on a non-callable: %s", c.Name)
		}
		return nil, fp, nil
	default:
		return nil, nil, fmt.Errorf("call on a non-callable value of type %s", callee.Type())
	}
}

// execReturn implements Return(has): pop the return value if has, then
// pop the frame and reset the operand stack to the frame's base pointer,
// discarding anything the callee left behind (a bare call to a
// value-returning function leaves no pop instruction; a for-loop's bound
// iterator stays on the stack for its whole body) so the stack is empty
// upon return per §8.1. A root-frame return ends execution; otherwise the
// caller resumes at the saved return pointer, receiving the return value
// on its stack if has. A constructor frame's own return value is
// discarded in favour of the instance CreateObject built (see
// Frame.ctorResult).
func (vm *VM) execReturn(has bool) (bool, error) {
	var retVal object.Value
	if has {
		v, err := vm.pop()
		if err != nil {
			return false, err
		}
		retVal = v
	}

	frame := vm.popFrame()
	vm.sp = frame.basePointer

	if frame.ctorResult != nil {
		retVal = frame.ctorResult
		has = true
	}

	if frame.isRoot {
		vm.result = retVal
		vm.hasResult = has
		return true, nil
	}

	vm.ip = frame.returnIP
	if has {
		if err := vm.push(retVal); err != nil {
			return false, err
		}
	}
	return false, nil
}

// execCreateObject implements §4.2.5: clone the class template as a fresh
// Object, pop argc constructor arguments, prepend the object as `self`,
// and jump to the constructor found under the qualified global
// `className.className` — or, if there is none, push the instance
// directly as a trivial no-op constructor.
func (vm *VM) execCreateObject(className string, argc int) error {
	classVal, ok := vm.program.Globals[className]
	if !ok {
		return fmt.Errorf("missing global: %s", className)
	}
	class, ok := classVal.(*object.Class)
	if !ok {
		return fmt.Errorf("call on a non-callable: %s is not a class", className)
	}

	args := make([]object.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		v, err := vm.pop()
		if err != nil {
			return err
		}
		args[i] = v
	}

	instance := class.NewInstance()

	ctorKey := className + "." + className
	ctorVal, ok := vm.program.Globals[ctorKey]
	if !ok {
		if err := vm.push(instance); err != nil {
			return err
		}
		vm.ip++
		return nil
	}
	ctor, ok := ctorVal.(*object.FunctionPointer)
	if !ok {
		return fmt.Errorf("call on a non-callable: %s is not a function", ctorKey)
	}

	frame := NewFrame(len(args)+1, vm.ip+1, false, vm.sp)
	frame.ctorResult = instance
	frame.Set(0, instance)
	for i, a := range args {
		frame.Set(i+1, a)
	}
	vm.pushFrame(frame)
	vm.ip = ctor.Index
	return nil
}

// execLoadMethod implements §4.2.5's method dispatch: pop an Object, read
// its field name, push the field, then push the Object back to serve as
// the implicit `self` the following Call(argc+1) will pick up.
func (vm *VM) execLoadMethod(name string) error {
	v, err := vm.pop()
	if err != nil {
		return err
	}
	obj, ok := v.(*object.Object)
	if !ok {
		return fmt.Errorf("missing method: receiver is not an object (got %s)", v.Type())
	}
	m, ok := obj.Get(name)
	if !ok {
		return fmt.Errorf("missing method: %s", name)
	}
	if err := vm.push(m); err != nil {
		return err
	}
	return vm.push(obj)
}

func (vm *VM) execCreateArray(n int) error {
	vals := make([]object.Value, n)
	for i := n - 1; i >= 0; i-- {
		v, err := vm.pop()
		if err != nil {
			return err
		}
		vals[i] = v
	}
	return vm.push(&object.Array{Elements: vals})
}

func (vm *VM) execCreateDictionary(n int) error {
	d := object.NewDictionary(n)
	for i := 0; i < n; i++ {
		v, err := vm.pop()
		if err != nil {
			return err
		}
		k, err := vm.pop()
		if err != nil {
			return err
		}
		key, ok := k.(*object.String)
		if !ok {
			return fmt.Errorf("type mismatch: dictionary key must be a string, got %s", k.Type())
		}
		d.Set(key.Value, v)
	}
	return vm.push(d)
}

func (vm *VM) execGetItem() error {
	keyVal, err := vm.pop()
	if err != nil {
		return err
	}
	collVal, err := vm.pop()
	if err != nil {
		return err
	}

	switch c := collVal.(type) {
	case *object.Array:
		idx, ok := keyVal.(*object.Integer)
		if !ok {
			return fmt.Errorf("type mismatch: array index must be an integer, got %s", keyVal.Type())
		}
		i := int(idx.Value)
		if i < 0 || i >= len(c.Elements) {
			return fmt.Errorf("index out of bounds: %d", i)
		}
		return vm.push(c.Elements[i])

	case *object.Dictionary:
		keyStr, ok := keyVal.(*object.String)
		if !ok {
			return fmt.Errorf("type mismatch: dictionary key must be a string, got %s", keyVal.Type())
		}
		v, ok := c.Get(keyStr.Value)
		if !ok {
			return fmt.Errorf("missing dictionary key: %s", keyStr.Value)
		}
		return vm.push(v)

	case *object.Object:
		keyStr, ok := keyVal.(*object.String)
		if !ok {
			return fmt.Errorf("type mismatch: field name must be a string, got %s", keyVal.Type())
		}
		v, ok := c.Get(keyStr.Value)
		if !ok {
			return fmt.Errorf("missing field: %s", keyStr.Value)
		}
		return vm.push(v)

	default:
		return fmt.Errorf("type mismatch: %s is not indexable", collVal.Type())
	}
}

func (vm *VM) execSetItem() error {
	keyVal, err := vm.pop()
	if err != nil {
		return err
	}
	val, err := vm.pop()
	if err != nil {
		return err
	}
	collVal, err := vm.pop()
	if err != nil {
		return err
	}

	switch c := collVal.(type) {
	case *object.Array:
		idx, ok := keyVal.(*object.Integer)
		if !ok {
			return fmt.Errorf("type mismatch: array index must be an integer, got %s", keyVal.Type())
		}
		i := int(idx.Value)
		if i < 0 || i >= len(c.Elements) {
			return fmt.Errorf("index out of bounds: %d", i)
		}
		c.Elements[i] = val

	case *object.Dictionary:
		keyStr, ok := keyVal.(*object.String)
		if !ok {
			return fmt.Errorf("type mismatch: dictionary key must be a string, got %s", keyVal.Type())
		}
		c.Set(keyStr.Value, val)

	case *object.Object:
		keyStr, ok := keyVal.(*object.String)
		if !ok {
			return fmt.Errorf("type mismatch: field name must be a string, got %s", keyVal.Type())
		}
		c.Set(keyStr.Value, val)

	default:
		return fmt.Errorf("type mismatch: %s is not indexable", collVal.Type())
	}
	return vm.push(collVal)
}

// execIteratorStart implements §4.2.4's IteratorStart.
func (vm *VM) execIteratorStart() error {
	startVal, err := vm.pop()
	if err != nil {
		return err
	}
	stepVal, err := vm.pop()
	if err != nil {
		return err
	}
	boundVal, err := vm.pop()
	if err != nil {
		return err
	}

	start, ok := startVal.(*object.Integer)
	if !ok {
		return fmt.Errorf("type mismatch: iterator start must be an integer, got %s", startVal.Type())
	}
	step, ok := stepVal.(*object.Integer)
	if !ok {
		return fmt.Errorf("type mismatch: iterator step must be an integer, got %s", stepVal.Type())
	}

	switch b := boundVal.(type) {
	case *object.Integer:
		if err := vm.push(b); err != nil {
			return err
		}
		return vm.push(&object.Counter{Index: start.Value, Step: step.Value, End: b.Value})

	case *object.Array:
		if err := vm.push(b); err != nil {
			return err
		}
		return vm.push(&object.Counter{Index: start.Value, Step: step.Value, End: int32(len(b.Elements)) - 1})

	case *object.Dictionary:
		keys := b.Keys()
		arr := &object.Array{Elements: make([]object.Value, len(keys))}
		for i, k := range keys {
			arr.Elements[i] = &object.String{Value: k}
		}
		if err := vm.push(arr); err != nil {
			return err
		}
		return vm.push(&object.Counter{Index: start.Value, Step: step.Value, End: int32(len(keys)) - 1})

	default:
		return fmt.Errorf("ill-formed iterator stack: cannot iterate %s", boundVal.Type())
	}
}

// execIteratorNext implements §4.2.4's IteratorNext(slot, delta).
func (vm *VM) execIteratorNext(slot, delta int) error {
	counterVal, err := vm.pop()
	if err != nil {
		return err
	}
	counter, ok := counterVal.(*object.Counter)
	if !ok {
		return fmt.Errorf("ill-formed iterator stack: expected a counter, got %s", counterVal.Type())
	}
	collVal, err := vm.pop()
	if err != nil {
		return err
	}

	passed := counter.Index > counter.End
	if counter.Step < 0 {
		passed = counter.Index < counter.End
	}
	if passed {
		vm.ip += delta
		return nil
	}

	switch c := collVal.(type) {
	case *object.Integer:
		vm.currentFrame().Set(slot, &object.Integer{Value: counter.Index})
	case *object.Array:
		idx := int(counter.Index)
		if idx < 0 || idx >= len(c.Elements) {
			return fmt.Errorf("index out of bounds: %d", idx)
		}
		vm.currentFrame().Set(slot, c.Elements[idx])
	default:
		return fmt.Errorf("ill-formed iterator stack: unexpected bound type %s", collVal.Type())
	}

	if err := vm.push(collVal); err != nil {
		return err
	}
	if err := vm.push(&object.Counter{Index: counter.Index + counter.Step, Step: counter.Step, End: counter.End}); err != nil {
		return err
	}
	vm.ip++
	return nil
}

func toFloat(v object.Value) (float32, bool) {
	switch x := v.(type) {
	case *object.Integer:
		return float32(x.Value), true
	case *object.Float:
		return x.Value, true
	default:
		return 0, false
	}
}

// execArithmetic implements Add/Sub/Multiply/Divide/Pow with
// Integer/Float promotion: an Integer/Integer pair stays exact, any other
// numeric pair promotes to Float.
func (vm *VM) execArithmetic(op code.Opcode) error {
	rightVal, err := vm.pop()
	if err != nil {
		return err
	}
	leftVal, err := vm.pop()
	if err != nil {
		return err
	}

	li, lIsInt := leftVal.(*object.Integer)
	ri, rIsInt := rightVal.(*object.Integer)
	if lIsInt && rIsInt {
		switch op {
		case code.OpAdd:
			return vm.push(&object.Integer{Value: li.Value + ri.Value})
		case code.OpSub:
			return vm.push(&object.Integer{Value: li.Value - ri.Value})
		case code.OpMultiply:
			return vm.push(&object.Integer{Value: li.Value * ri.Value})
		case code.OpDivide:
			if ri.Value == 0 {
				return fmt.Errorf("division by zero")
			}
			return vm.push(&object.Integer{Value: li.Value / ri.Value})
		case code.OpPow:
			return vm.push(&object.Integer{Value: int32(math.Pow(float64(li.Value), float64(ri.Value)))})
		}
	}

	lf, lOk := toFloat(leftVal)
	rf, rOk := toFloat(rightVal)
	if !lOk || !rOk {
		return fmt.Errorf("type mismatch: cannot apply %s to %s and %s", op, leftVal.Type(), rightVal.Type())
	}
	switch op {
	case code.OpAdd:
		return vm.push(&object.Float{Value: lf + rf})
	case code.OpSub:
		return vm.push(&object.Float{Value: lf - rf})
	case code.OpMultiply:
		return vm.push(&object.Float{Value: lf * rf})
	case code.OpDivide:
		if rf == 0 {
			return fmt.Errorf("division by zero")
		}
		return vm.push(&object.Float{Value: lf / rf})
	case code.OpPow:
		return vm.push(&object.Float{Value: float32(math.Pow(float64(lf), float64(rf)))})
	default:
		return fmt.Errorf("unknown arithmetic opcode: %s", op)
	}
}

// execComparison implements Equal/NotEqual (structural/reference per
// object.Equal) and the four ordering comparisons (numeric only, with
// Integer/Float promotion).
func (vm *VM) execComparison(op code.Opcode) error {
	rightVal, err := vm.pop()
	if err != nil {
		return err
	}
	leftVal, err := vm.pop()
	if err != nil {
		return err
	}

	switch op {
	case code.OpEqual:
		return vm.push(&object.Bool{Value: object.Equal(leftVal, rightVal)})
	case code.OpNotEqual:
		return vm.push(&object.Bool{Value: !object.Equal(leftVal, rightVal)})
	}

	lf, lOk := toFloat(leftVal)
	rf, rOk := toFloat(rightVal)
	if !lOk || !rOk {
		return fmt.Errorf("type mismatch: cannot compare %s and %s", leftVal.Type(), rightVal.Type())
	}

	var result bool
	switch op {
	case code.OpLessThan:
		result = lf < rf
	case code.OpLessThanOrEqual:
		result = lf <= rf
	case code.OpGreaterThan:
		result = lf > rf
	case code.OpGreaterThanOrEqual:
		result = lf >= rf
	default:
		return fmt.Errorf("unknown comparison opcode: %s", op)
	}
	return vm.push(&object.Bool{Value: result})
}

func (vm *VM) push(v object.Value) error {
	if vm.sp >= StackSize {
		return fmt.Errorf("stack overflow")
	}
	vm.stack[vm.sp] = v
	vm.sp++
	return nil
}

func (vm *VM) pop() (object.Value, error) {
	if vm.sp == 0 {
		return nil, fmt.Errorf("stack underflow")
	}
	vm.sp--
	v := vm.stack[vm.sp]
	vm.stack[vm.sp] = nil
	return v, nil
}

func (vm *VM) currentFrame() *Frame {
	return vm.frames[len(vm.frames)-1]
}

func (vm *VM) pushFrame(f *Frame) {
	vm.frames = append(vm.frames, f)
}

func (vm *VM) popFrame() *Frame {
	f := vm.frames[len(vm.frames)-1]
	vm.frames = vm.frames[:len(vm.frames)-1]
	return f
}
