package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rootSet is a controllable root marker for collector tests.
type rootSet struct {
	values []Value
}

func (r *rootSet) install(h *Heap) {
	h.SetRootMarker(func(mark func(Value)) {
		for _, v := range r.values {
			mark(v)
		}
	})
}

func TestInternDeduplicates(t *testing.T) {
	h := NewHeap()
	a := h.Intern("hello")
	b := h.Intern("hel" + "lo")
	c := h.Intern("world")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, True, Equal(a, b))
	assert.Equal(t, False, Equal(a, c))
}

func TestCollectFreesUnreachable(t *testing.T) {
	h := NewHeap()
	var roots rootSet
	roots.install(h)

	kept := h.Intern("kept")
	lost := h.Intern("lost")
	roots.values = []Value{kept}

	require.True(t, h.contains(kept))
	require.True(t, h.contains(lost))

	h.Collect()

	assert.True(t, h.contains(kept))
	assert.False(t, h.contains(lost), "unreachable object must be swept")

	// the intern pool entry for the dead string is gone: re-interning the
	// same content yields a fresh object
	again := h.Intern("lost")
	assert.True(t, h.contains(again))
	assert.Same(t, kept, h.Intern("kept"))
}

func TestCollectTracesReferences(t *testing.T) {
	h := NewHeap()
	var roots rootSet
	roots.install(h)

	name := h.Intern("f")
	fn := h.NewFunction(name)
	fn.UpvalueCount = 1
	lit := h.Intern("a literal")
	fn.Chunk.AddConstant(lit)
	closure := h.NewClosure(fn)

	inner := h.Intern("captured")
	up := h.NewUpvalue(-1)
	up.closed = inner
	closure.Upvalues[0] = up

	roots.values = []Value{closure}
	h.Collect()

	for _, o := range []Object{name, fn, lit, closure, up, inner} {
		assert.True(t, h.contains(o), "%s must survive through the closure", o.Type())
	}

	// cut the root and everything goes
	roots.values = nil
	h.Collect()
	for _, o := range []Object{name, fn, lit, closure, up, inner} {
		assert.False(t, h.contains(o))
	}
	assert.Zero(t, h.BytesAllocated())
}

func TestCollectClassGraph(t *testing.T) {
	h := NewHeap()
	var roots rootSet
	roots.install(h)

	super := h.NewClass(h.Intern("Base"))
	class := h.NewClass(h.Intern("Derived"))
	class.Super = super
	mname := h.Intern("greet")
	method := h.NewClosure(h.NewFunction(mname))
	class.Methods.Set(mname, method)

	inst := h.NewInstance(class)
	fname := h.Intern("field")
	inst.Fields.Set(fname, h.Intern("value"))

	bound := h.NewBoundMethod(inst, method)
	roots.values = []Value{bound}
	h.Collect()

	for _, o := range []Object{super, class, method, inst, bound} {
		assert.True(t, h.contains(o), "%s reachable via bound method", o.Type())
	}
	v, ok := inst.Fields.Get(fname)
	require.True(t, ok)
	assert.True(t, h.contains(v.(Object)))
}

func TestNurseryPinsInProgressAllocations(t *testing.T) {
	h := NewHeap()
	var roots rootSet
	roots.install(h)

	before := h.Intern("before")

	h.OpenNursery()
	a := h.Intern("young a")
	b := h.NewFunction(nil)
	h.Collect()

	// nursery objects survive with no other roots; older garbage does not
	assert.True(t, h.contains(a))
	assert.True(t, h.contains(b))
	assert.False(t, h.contains(before))

	h.CloseNursery()
	h.Collect()
	assert.False(t, h.contains(a))
	assert.False(t, h.contains(b))
}

func TestNurseryNests(t *testing.T) {
	h := NewHeap()
	var roots rootSet
	roots.install(h)

	h.OpenNursery()
	a := h.Intern("outer")
	h.OpenNursery()
	b := h.Intern("inner")
	h.CloseNursery()

	// still open: both pinned
	h.Collect()
	assert.True(t, h.contains(a))
	assert.True(t, h.contains(b))

	h.CloseNursery()
	h.Collect()
	assert.False(t, h.contains(a))
	assert.False(t, h.contains(b))

	assert.Panics(t, func() { h.CloseNursery() })
}

func TestStressCollectsOnEveryAllocation(t *testing.T) {
	h := NewHeap()
	h.Stress = true
	var roots rootSet
	roots.install(h)

	// each Intern triggers a collection; previous strings are unreachable
	for i := 0; i < 10; i++ {
		s := h.Intern(string(rune('a' + i)))
		roots.values = []Value{s}
	}
	// only the last one is rooted, plus its predecessor, which was still the
	// root when the last allocation collected
	assert.LessOrEqual(t, h.NumObjects(), 2)
}

func TestSweepKeepsListWellFormed(t *testing.T) {
	h := NewHeap()
	var roots rootSet
	roots.install(h)

	var all []Object
	for i := 0; i < 50; i++ {
		all = append(all, h.Intern(string(rune('A'+i))))
	}
	// root every other object
	for i := 0; i < 50; i += 2 {
		roots.values = append(roots.values, all[i])
	}
	h.Collect()

	assert.Equal(t, 25, h.NumObjects())
	for i, o := range all {
		assert.Equal(t, i%2 == 0, h.contains(o), "object %d", i)
	}
}
