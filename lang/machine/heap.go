package machine

import (
	"fmt"
	"io"
	"os"
)

const (
	initialGCThreshold = 1 << 20 // 1 MiB
	heapGrowFactor     = 2
)

// Heap owns every managed object, threaded on an intrusive list, and
// reclaims the unreachable ones with a tricolor mark-sweep collector. A
// collection may run on any allocation, so code that performs several
// allocations that must survive together brackets them with OpenNursery and
// CloseNursery: while the nursery is open, everything allocated since the
// open is pinned as a root.
type Heap struct {
	// Stress forces a collection on every allocation; Trace logs each cycle.
	Stress bool
	Trace  bool

	objects        Object
	strings        Table // intern pool; keys are weak
	bytesAllocated int
	nextGC         int
	gray           []Object

	nurseryEnd   Object // list head when the nursery was opened
	nurseryDepth int

	rootMarker func(mark func(Value))
	stderr     io.Writer
}

// NewHeap returns an empty heap.
func NewHeap() *Heap {
	return &Heap{nextGC: initialGCThreshold, stderr: os.Stderr}
}

// SetRootMarker installs the callback that marks the machine's roots (value
// stack, frames, open upvalues, globals, sentinel strings, built-in class
// handles) at the start of each collection.
func (h *Heap) SetRootMarker(fn func(mark func(Value))) {
	h.rootMarker = fn
}

// SetStderr redirects collector tracing.
func (h *Heap) SetStderr(w io.Writer) {
	h.stderr = w
}

// BytesAllocated returns the accounted size of the live heap.
func (h *Heap) BytesAllocated() int { return h.bytesAllocated }

// NumObjects returns the number of objects on the heap list.
func (h *Heap) NumObjects() int {
	n := 0
	for o := h.objects; o != nil; o = o.header().next {
		n++
	}
	return n
}

// OpenNursery opens (or nests) the allocation-protection region. On the
// outermost open, the current list head is recorded so that every object
// allocated from now on sits between the head and that mark.
func (h *Heap) OpenNursery() {
	h.nurseryDepth++
	if h.nurseryDepth == 1 {
		h.nurseryEnd = h.objects
	}
}

// CloseNursery closes one nesting level; on the outermost close the pinned
// region is released.
func (h *Heap) CloseNursery() {
	if h.nurseryDepth == 0 {
		panic("close of a closed nursery")
	}
	h.nurseryDepth--
	if h.nurseryDepth == 0 {
		h.nurseryEnd = nil
	}
}

// allocate accounts for a new object, possibly collecting first, and links
// it at the head of the object list. The object must not yet be reachable
// from the heap, so collecting before linking cannot free it.
func (h *Heap) allocate(o Object, size int) {
	h.bytesAllocated += size
	if h.Stress || h.bytesAllocated > h.nextGC {
		h.Collect()
	}
	hd := o.header()
	hd.size = size
	hd.next = h.objects
	h.objects = o
}

// Intern returns the canonical String object for s, creating and recording
// it on first sight. Two interned strings are content-equal iff they are the
// same object.
func (h *Heap) Intern(s string) *String {
	hash := hashString(s)
	if existing := h.strings.findString(s, hash); existing != nil {
		return existing
	}
	obj := &String{s: s, hash: hash}
	h.allocate(obj, sizeString+len(s))
	h.strings.Set(obj, Nil)
	return obj
}

// NewFunction allocates an empty function object.
func (h *Heap) NewFunction(name *String) *Function {
	fn := &Function{Name: name}
	h.allocate(fn, sizeFunction)
	return fn
}

// NewNative allocates a host callable.
func (h *Heap) NewNative(sig Signature, fn NativeFn, isMethod bool, doc string) *Native {
	n := &Native{Sig: sig, Fn: fn, IsMethod: isMethod, Doc: doc}
	h.allocate(n, sizeNative)
	return n
}

// NewClosure allocates a closure over fn with room for its upvalues.
func (h *Heap) NewClosure(fn *Function) *Closure {
	c := &Closure{Fn: fn, Upvalues: make([]*Upvalue, fn.UpvalueCount)}
	h.allocate(c, sizeClosure+8*fn.UpvalueCount)
	return c
}

// NewUpvalue allocates an open upvalue over the given stack slot.
func (h *Heap) NewUpvalue(slot int) *Upvalue {
	u := &Upvalue{slot: slot, closed: Nil}
	h.allocate(u, sizeUpvalue)
	return u
}

// NewClass allocates an empty class.
func (h *Heap) NewClass(name *String) *Class {
	c := &Class{Name: name}
	h.allocate(c, sizeClass)
	return c
}

// NewInstance allocates a fieldless instance of class.
func (h *Heap) NewInstance(class *Class) *Instance {
	i := &Instance{Class: class}
	h.allocate(i, sizeInstance)
	return i
}

// NewBoundMethod allocates a receiver/method pair.
func (h *Heap) NewBoundMethod(receiver, method Value) *BoundMethod {
	b := &BoundMethod{Receiver: receiver, Method: method}
	h.allocate(b, sizeBoundMethod)
	return b
}

// NewList allocates a list with the given elements as storage.
func (h *Heap) NewList(class *Class, elems []Value) *List {
	l := &List{Class: class, Elems: elems}
	h.allocate(l, sizeList+8*len(elems))
	return l
}

// Collect runs one full mark-sweep cycle.
func (h *Heap) Collect() {
	before := h.bytesAllocated
	if h.Trace {
		fmt.Fprintf(h.stderr, "-- gc begin (%d bytes)\n", before)
	}

	h.markRoots()
	h.traceReferences()
	h.strings.removeUnmarked()
	h.sweep()

	h.nextGC = h.bytesAllocated * heapGrowFactor
	if h.Trace {
		fmt.Fprintf(h.stderr, "-- gc end: collected %d bytes (%d -> %d), next at %d\n",
			before-h.bytesAllocated, before, h.bytesAllocated, h.nextGC)
	}
}

func (h *Heap) markRoots() {
	if h.rootMarker != nil {
		h.rootMarker(h.markValue)
	}
	// pin the nursery sublist: everything allocated since the outermost open
	if h.nurseryDepth > 0 {
		for o := h.objects; o != nil && o != h.nurseryEnd; o = o.header().next {
			h.markObject(o)
		}
	}
}

// markValue grays a reachable object; primitives carry no references.
func (h *Heap) markValue(v Value) {
	if o, ok := v.(Object); ok {
		h.markObject(o)
	}
}

func (h *Heap) markObject(o Object) {
	if o == nil {
		return
	}
	hd := o.header()
	if hd.marked {
		return
	}
	hd.marked = true
	h.gray = append(h.gray, o)
}

func (h *Heap) markTable(t *Table) {
	t.each(func(key *String, value Value) {
		h.markObject(key)
		h.markValue(value)
	})
}

// traceReferences drains the gray worklist, blackening each object by
// marking its direct children.
func (h *Heap) traceReferences() {
	for len(h.gray) > 0 {
		o := h.gray[len(h.gray)-1]
		h.gray = h.gray[:len(h.gray)-1]
		h.blacken(o)
	}
}

func (h *Heap) blacken(o Object) {
	switch o := o.(type) {
	case *String:
		// no references
	case *Function:
		if o.Name != nil {
			h.markObject(o.Name)
		}
		if o.Doc != nil {
			h.markObject(o.Doc)
		}
		for _, c := range o.Chunk.Constants {
			h.markValue(c)
		}
	case *Native:
		// no references
	case *Closure:
		h.markObject(o.Fn)
		for _, u := range o.Upvalues {
			if u != nil {
				h.markObject(u)
			}
		}
	case *Upvalue:
		h.markValue(o.closed)
	case *Class:
		h.markObject(o.Name)
		if o.Super != nil {
			h.markObject(o.Super)
		}
		h.markTable(&o.Methods)
	case *Instance:
		h.markObject(o.Class)
		h.markTable(&o.Fields)
	case *BoundMethod:
		h.markValue(o.Receiver)
		h.markValue(o.Method)
	case *List:
		h.markObject(o.Class)
		for _, e := range o.Elems {
			h.markValue(e)
		}
	default:
		panic(fmt.Sprintf("unknown object kind %T", o))
	}
}

// sweep unlinks every unmarked object and clears the mark on survivors,
// keeping the intrusive list well-formed.
func (h *Heap) sweep() {
	var prev Object
	o := h.objects
	for o != nil {
		hd := o.header()
		if hd.marked {
			hd.marked = false
			prev = o
			o = hd.next
			continue
		}
		unreached := o
		o = hd.next
		if prev == nil {
			h.objects = o
		} else {
			prev.header().next = o
		}
		h.bytesAllocated -= unreached.header().size
		unreached.header().next = nil
	}
}

// contains reports whether o is on the object list; test helper.
func (h *Heap) contains(o Object) bool {
	for x := h.objects; x != nil; x = x.header().next {
		if x == o {
			return true
		}
	}
	return false
}
