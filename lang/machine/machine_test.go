package machine_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zxul767/lox/lang/compiler"
	"github.com/zxul767/lox/lang/machine"
)

// interp compiles and runs src on a fresh machine and returns what it
// printed. Compile errors fail the test; runtime errors are returned.
func interp(t *testing.T, src string) (string, error) {
	t.Helper()
	return interpMode(t, src, 0, false)
}

func interpMode(t *testing.T, src string, mode compiler.Mode, stress bool) (string, error) {
	t.Helper()

	heap := machine.NewHeap()
	heap.Stress = stress
	m := machine.New(heap)
	var out bytes.Buffer
	m.Stdout = &out
	m.Stderr = &out

	fn, err := compiler.Compile(heap, src, mode)
	require.NoError(t, err)
	runErr := m.Run(fn)
	return out.String(), runErr
}

func run(t *testing.T, src string) string {
	t.Helper()

	heap := machine.NewHeap()
	m := machine.New(heap)
	var out bytes.Buffer
	m.Stdout = &out

	fn, err := compiler.Compile(heap, src, 0)
	require.NoError(t, err)
	require.NoError(t, m.Run(fn))
	return out.String()
}

func TestArithmetic(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{`print (10 + 20) / (2 * 5);`, "3\n"},
		{`print 1 + 2 * 3;`, "7\n"},
		{`print (1 + 2) * 3;`, "9\n"},
		{`print 10 - 4 - 3;`, "3\n"},   // left associative
		{`print 100 / 10 / 5;`, "2\n"}, // left associative
		{`print -3 + 5;`, "2\n"},
		{`print --3;`, "3\n"},
		{`print 0.1 + 0.2 == 0.3;`, "false\n"}, // IEEE-754 doubles
		{`print 7 / 2;`, "3.5\n"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, run(t, c.src), c.src)
	}
}

func TestComparisonAndEquality(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{`var a = 1; var b = 2; print (a + b) == 3;`, "true\n"},
		{`print 1 < 2;`, "true\n"},
		{`print 2 <= 2;`, "true\n"},
		{`print 3 > 4;`, "false\n"},
		{`print 3 >= 4;`, "false\n"},
		{`print 1 == 1 == true;`, "true\n"}, // (1==1)==true
		{`print 1 != 2;`, "true\n"},
		{`print nil == nil;`, "true\n"},
		{`print nil == false;`, "false\n"},
		{`print "a" == "a";`, "true\n"},
		{`print "a" == "b";`, "false\n"},
		{`print "a" + "b" == "ab";`, "true\n"}, // interning makes this identity
		{`print 1 == "1";`, "false\n"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, run(t, c.src), c.src)
	}
}

func TestTruthiness(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{`print !nil;`, "true\n"},
		{`print !false;`, "true\n"},
		{`print !0;`, "false\n"}, // zero is truthy
		{`print !"";`, "false\n"},
		{`if (0) print "t"; else print "f";`, "t\n"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, run(t, c.src), c.src)
	}
}

func TestStringConcatenation(t *testing.T) {
	assert.Equal(t, "hello, world\n", run(t, `print "hello, " + "wor" + "ld";`))
	assert.Equal(t, "multi\nline\n", run(t, "print \"multi\nline\";"))
}

func TestGlobals(t *testing.T) {
	out := run(t, `
var a = 1;
a = a + 1;
print a;
var b;
print b;
`)
	assert.Equal(t, "2\nnil\n", out)
}

func TestShortCircuit(t *testing.T) {
	out := run(t, `
var calls = 0;
fun effect() { calls = calls + 1; return true; }
var a = false and effect();
var b = true or effect();
print calls;
print a;
print b;
print nil or "default";
print 1 and 2;
`)
	assert.Equal(t, "0\nfalse\ntrue\ndefault\n2\n", out)
}

func TestControlFlow(t *testing.T) {
	out := run(t, `
var sum = 0;
for (var i = 1; i <= 10; i = i + 1) sum = sum + i;
print sum;

var n = 0;
while (n < 3) { n = n + 1; }
print n;

if (1 > 2) print "then"; else print "else";
`)
	assert.Equal(t, "55\n3\nelse\n", out)
}

func TestForWithoutClauses(t *testing.T) {
	out := run(t, `
fun firstOver(limit) {
  var i = 1;
  for (;;) {
    i = i * 2;
    if (i > limit) return i;
  }
}
print firstOver(100);
`)
	assert.Equal(t, "128\n", out)
}

func TestFunctionsAndRecursion(t *testing.T) {
	out := run(t, `
fun fib(n) { if (n <= 1) return n; return fib(n-1) + fib(n-2); }
print fib(10);
`)
	assert.Equal(t, "55\n", out)

	out = run(t, `
fun add(a, b, c) { return a + b + c; }
print add(1, 2, 3);
fun noReturn() {}
print noReturn();
`)
	assert.Equal(t, "6\nnil\n", out)
}

func TestClosures(t *testing.T) {
	out := run(t, `
fun counter() {
  var i = 0;
  fun next() { i = i + 1; return i; }
  return next;
}
var c = counter();
c(); c();
print c();
`)
	assert.Equal(t, "3\n", out)

	// two closures over the same local share one upvalue
	out = run(t, `
fun pair() {
  var value = 0;
  fun get() { return value; }
  fun set(v) { value = v; }
  set(41);
  var tmp = get;
  return tmp;
}
var g = pair();
print g();
`)
	assert.Equal(t, "41\n", out)

	// a closure keeps observing the last value of an escaped local
	out = run(t, `
var get;
var set;
fun make() {
  var captured = "initial";
  fun g() { return captured; }
  fun s(v) { captured = v; }
  get = g;
  set = s;
}
make();
print get();
set("changed");
print get();
`)
	assert.Equal(t, "initial\nchanged\n", out)
}

func TestUpvalueClosesOnScopeExit(t *testing.T) {
	out := run(t, `
var fns;
{
  var a = 1;
  {
    var b = 10;
    fun f() { return a + b; }
    fns = f;
    b = 20;
  }
  a = 2;
}
print fns();
`)
	assert.Equal(t, "22\n", out)
}

func TestClassesAndInstances(t *testing.T) {
	out := run(t, `
class Point {
  __init__(x, y) {
    this.x = x;
    this.y = y;
  }
  sum() { return this.x + this.y; }
}
var p = Point(3, 4);
print p.sum();
print p.x;
p.x = 30;
print p.sum();
print p;
print Point;
`)
	assert.Equal(t, "7\n3\n34\nPoint instance\nPoint\n", out)
}

func TestInitializerReturnsThis(t *testing.T) {
	out := run(t, `
class Box { __init__() { this.v = 1; } }
var b = Box();
print b.v;
// calling __init__ again returns the same instance
print b.__init__() == b;
`)
	assert.Equal(t, "1\ntrue\n", out)
}

func TestClassWithoutInitializer(t *testing.T) {
	out := run(t, `
class Empty {}
var e = Empty();
e.field = "set";
print e.field;
`)
	assert.Equal(t, "set\n", out)

	_, err := interp(t, `class Empty {} Empty(1);`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected 0 arguments but got 1.")
}

func TestMethodsAndBinding(t *testing.T) {
	out := run(t, `
class Greeter {
  __init__(name) { this.name = name; }
  greet() { return "hi, " + this.name; }
}
var g = Greeter("ada");
var m = g.greet; // bound method keeps its receiver
print m();
`)
	assert.Equal(t, "hi, ada\n", out)

	// a function stored in a field is called like a method but unbound
	out = run(t, `
fun free() { return "free"; }
class Holder {}
var h = Holder();
h.fn = free;
print h.fn();
`)
	assert.Equal(t, "free\n", out)
}

func TestInheritance(t *testing.T) {
	out := run(t, `
class A { greet(){ print "A"; } }
class B < A { greet(){ super.greet(); print "B"; } }
B().greet();
`)
	assert.Equal(t, "A\nB\n", out)

	// super resolves to the lexically enclosing class's superclass, not the
	// receiver's class
	out = run(t, `
class A { m() { return "A"; } }
class B < A { m() { return "B"; } test() { return super.m(); } }
class C < B { m() { return "C"; } }
print C().test();
`)
	assert.Equal(t, "A\n", out)

	// inherited methods are available without overriding
	out = run(t, `
class Base { hello() { return "hello"; } }
class Derived < Base {}
print Derived().hello();
`)
	assert.Equal(t, "hello\n", out)
}

func TestRuntimeErrors(t *testing.T) {
	cases := []struct {
		src     string
		wantMsg string
	}{
		{`print 1 + "a";`, "Operands must be two numbers or two strings."},
		{`print "a" + 1;`, "Operands must be two numbers or two strings."},
		{`print -"a";`, "Operand must be a number."},
		{`print 1 < "a";`, "Operands must be numbers."},
		{`print undefined;`, "Undefined variable 'undefined'."},
		{`undefined = 1;`, "Undefined variable 'undefined'."},
		{`var x = 1; x();`, "Can only call functions and classes."},
		{`fun f(a) {} f();`, "Expected 1 arguments but got 0."},
		{`print nil.field;`, "Only instances have properties."},
		{`nil.field = 1;`, "Only instances have fields."},
		{`class C {} print C().missing;`, "Undefined property 'missing'."},
		{`class C {} C().missing();`, "Undefined property 'missing'."},
		{`var NotAClass = 1; class D < NotAClass {}`, "Superclass must be a class."},
	}
	for _, c := range cases {
		_, err := interp(t, c.src)
		require.Error(t, err, c.src)
		assert.ErrorIs(t, err, machine.ErrRuntime, c.src)
		assert.Contains(t, err.Error(), "Runtime Error: "+c.wantMsg, c.src)
	}
}

func TestStackTraceFormat(t *testing.T) {
	_, err := interp(t, `fun a() { b(); }
fun b() { c(); }
fun c() { nope(); }
a();
`)
	require.Error(t, err)
	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "Runtime Error: Undefined variable 'nope'."), msg)

	// innermost frame first, the script last
	iC := strings.Index(msg, "[line 3] in c()")
	iB := strings.Index(msg, "[line 2] in b()")
	iA := strings.Index(msg, "[line 1] in a()")
	iS := strings.Index(msg, "[line 4] in script")
	require.True(t, iC >= 0 && iB >= 0 && iA >= 0 && iS >= 0, msg)
	assert.True(t, iC < iB && iB < iA && iA < iS, msg)
}

func TestStackOverflow(t *testing.T) {
	_, err := interp(t, `fun f() { f(); } f();`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Stack overflow.")
}

func TestNatives(t *testing.T) {
	out := run(t, `
print sin(0);
var before = clock();
print before > 0;
println("y");
`)
	assert.Equal(t, "0\ntrue\ny\n", out)

	_, err := interp(t, `sin("not a number");`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sin: expected a number")
}

func TestHelp(t *testing.T) {
	out := run(t, `
fun area(w, h) {
  "Computes the area of a w-by-h rectangle.";
  return w * h;
}
help(area);
print area(2, 3);
`)
	assert.Contains(t, out, "area(w: any, h: any)")
	assert.Contains(t, out, "Computes the area of a w-by-h rectangle.")
	assert.Contains(t, out, "6\n")

	out = run(t, `help(sin);`)
	assert.Contains(t, out, "sin(x: number) -> number")

	out = run(t, `help(list);`)
	assert.Contains(t, out, "class list")
	assert.Contains(t, out, "append")
	assert.Contains(t, out, "__getitem__")
}

func TestListBuiltin(t *testing.T) {
	out := run(t, `
var xs = list();
print xs.len();
xs.append(10);
xs.append("two");
print xs.len();
print xs[0];
print xs[1];
xs[0] = 42;
print xs[0];
print xs.pop();
print xs.len();
print xs;
`)
	assert.Equal(t, "0\n2\n10\ntwo\n42\ntwo\n1\n[42]\n", out)

	_, err := interp(t, `var xs = list(); print xs[0];`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index out of range")

	_, err = interp(t, `var xs = list(); xs.pop();`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pop from an empty list.")

	_, err = interp(t, `var xs = list(); xs.append(1); print xs[0.5];`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index must be an integer")
}

func TestStringBuiltin(t *testing.T) {
	out := run(t, `
var s = "hello";
print s.len();
print s[1];
print string(42);
print string(42) == "42";
`)
	assert.Equal(t, "5\ne\n42\ntrue\n", out)

	_, err := interp(t, `print "abc"[3];`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index out of range")
}

func TestGlobalsPersistAcrossRuns(t *testing.T) {
	heap := machine.NewHeap()
	m := machine.New(heap)
	var out bytes.Buffer
	m.Stdout = &out

	fn, err := compiler.Compile(heap, `var kept = 123;`, 0)
	require.NoError(t, err)
	require.NoError(t, m.Run(fn))

	fn, err = compiler.Compile(heap, `print kept;`, 0)
	require.NoError(t, err)
	require.NoError(t, m.Run(fn))
	assert.Equal(t, "123\n", out.String())
}

func TestReplEchoMode(t *testing.T) {
	out, err := interpMode(t, `1 + 2`, compiler.PrintLastExpr, false)
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)

	out, err = interpMode(t, `var a = 2; a * 21;`, compiler.PrintLastExpr, false)
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)

	// non-final expressions do not echo
	out, err = interpMode(t, `1 + 1; 2 + 2`, compiler.PrintLastExpr, false)
	require.NoError(t, err)
	assert.Equal(t, "4\n", out)
}

// Running a busy program with a collection on every allocation shakes out
// missing roots.
func TestGCStressExecution(t *testing.T) {
	out, err := interpMode(t, `
fun adder(prefix) {
  fun add(suffix) { return prefix + suffix; }
  return add;
}
class Node {
  __init__(value) { this.value = value; this.label = "node:" + value; }
  describe() { return this.label; }
}
var total = "";
for (var i = 0; i < 5; i = i + 1) {
  var a = adder("x" + "y");
  total = total + a("z");
  var n = Node(total);
  total = n.describe();
}
print total;
`, 0, true)
	require.NoError(t, err)
	assert.Contains(t, out, "node:")
}

func TestRuntimeErrorResetsStacks(t *testing.T) {
	heap := machine.NewHeap()
	m := machine.New(heap)
	var out bytes.Buffer
	m.Stdout = &out

	fn, err := compiler.Compile(heap, `fun f() { g(); } f();`, 0)
	require.NoError(t, err)
	require.Error(t, m.Run(fn))

	// the machine remains usable after a runtime error
	fn, err = compiler.Compile(heap, `print "still alive";`, 0)
	require.NoError(t, err)
	require.NoError(t, m.Run(fn))
	assert.Equal(t, "still alive\n", out.String())
}
