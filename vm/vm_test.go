package vm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbc-lang/orbc/compiler"
	"github.com/orbc-lang/orbc/object"
	"github.com/orbc-lang/orbc/vm"
)

func run(t *testing.T, source string) object.Value {
	t.Helper()
	program, err := compiler.Compile(source)
	require.NoError(t, err)

	result, err := vm.New().Execute(program, nil, "main")
	require.NoError(t, err)
	return result
}

func TestSeedScenarios(t *testing.T) {
	cases := []struct {
		name   string
		source string
		want   int32
	}{
		{
			"arithmetic round-trip",
			`function main() var a = 2 + 3 * 4 return a end`,
			14,
		},
		{
			"integer counted loop",
			`function main() var s = 0 for i = 1 to 5 do s = s + i end return s end`,
			15,
		},
		{
			"array iteration",
			`function main() var s = 0 for x in [10, 20, 30] do s = s + x end return s end`,
			60,
		},
		{
			"dictionary round-trip",
			`function main() var d = {"a": 1, "b": 2} d["c"] = 3 return d["a"] + d["b"] + d["c"] end`,
			6,
		},
		{
			"recursive function",
			`function fib(n) if n < 2 then return n end return fib(n-1) + fib(n-2) end
			 function main() return fib(10) end`,
			55,
		},
		{
			"if/else branching",
			`function main() var x = 7 if x < 5 then return 1 else return 2 end end`,
			2,
		},
		{
			"lambda via global assignment",
			`function main() var f = function(x) return x * x end return f(6) end`,
			36,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			result := run(t, c.source)
			require.IsType(t, &object.Integer{}, result)
			assert.Equal(t, c.want, result.(*object.Integer).Value)
		})
	}
}

func TestArrayAliasing(t *testing.T) {
	result := run(t, `
		function main()
			var a = [1, 2, 3]
			var b = a
			b[0] = 99
			return a[0]
		end
	`)
	require.IsType(t, &object.Integer{}, result)
	assert.Equal(t, int32(99), result.(*object.Integer).Value)
}

func TestWhileLoop(t *testing.T) {
	result := run(t, `
		function main()
			var i = 0
			var s = 0
			while i < 4 do
				s = s + i
				i = i + 1
			end
			return s
		end
	`)
	require.IsType(t, &object.Integer{}, result)
	assert.Equal(t, int32(6), result.(*object.Integer).Value)
}

func TestClassMethodDispatch(t *testing.T) {
	// Field writes go through index-assignment (self["count"] = ...): dot-chain
	// assignment is left unimplemented per spec.md §9, so `self.count = ...`
	// does not parse. Dot-chain reads are unaffected.
	result := run(t, `
		class Counter
			var count
		end

		function Counter:Counter(start)
			self["count"] = start
		end

		function Counter:increment(by)
			self["count"] = self.count + by
			return self.count
		end

		function main()
			var c = new Counter(10)
			c.increment(5)
			return c.increment(2)
		end
	`)
	require.IsType(t, &object.Integer{}, result)
	assert.Equal(t, int32(17), result.(*object.Integer).Value)
}

func TestReturnResetsOperandStack(t *testing.T) {
	// A bare call leaves its result unpopped (compiler.go never emits a pop
	// for an ExpressionStatement call), and a return taken from inside a
	// for body escapes the loop's own [bound, Counter] cleanup. Without
	// Frame.basePointer restoring vm.sp on Return, enough iterations of
	// either overflow StackSize long before this loop count would.
	result := run(t, `
		function earlyReturn(arr)
			for x in arr do
				return x
			end
			return -1
		end

		function main()
			for i = 1 to 1000 do
				earlyReturn([7])
			end
			return earlyReturn([42])
		end
	`)
	require.IsType(t, &object.Integer{}, result)
	assert.Equal(t, int32(42), result.(*object.Integer).Value)
}

func TestBuiltinAssertions(t *testing.T) {
	result := run(t, `
		function main()
			assertEquals(4, 2 + 2)
			assertTrue(1 < 2)
			return 1
		end
	`)
	require.IsType(t, &object.Integer{}, result)
	assert.Equal(t, int32(1), result.(*object.Integer).Value)
}

func TestNoEntrypoint(t *testing.T) {
	program, err := compiler.Compile(`function notMain() return 1 end`)
	require.NoError(t, err)

	_, err = vm.New().Execute(program, nil, "main")
	assert.Error(t, err)
}
