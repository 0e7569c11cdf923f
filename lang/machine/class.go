package machine

import "fmt"

// A Class is a user-defined (or built-in) class: a name, a method table and
// an optional superclass. Inheritance is monomorphized: INHERIT copies the
// superclass methods into the subclass table, so lookups never walk a chain
// at call time. The superclass reference remains for introspection.
type Class struct {
	objectHeader
	Name    *String
	Methods Table
	Super   *Class
}

var _ Object = (*Class)(nil)

func (c *Class) String() string { return c.Name.s }
func (c *Class) Type() string   { return "class" }

// An Instance is a user-defined object: its class plus a table of fields.
type Instance struct {
	objectHeader
	Class  *Class
	Fields Table
}

var _ Object = (*Instance)(nil)

func (i *Instance) String() string { return fmt.Sprintf("%s instance", i.Class.Name.s) }
func (i *Instance) Type() string   { return i.Class.Name.s }

// A BoundMethod pairs a receiver with a method so the pair can be passed
// around and invoked later. The method is a *Closure or a *Native.
type BoundMethod struct {
	objectHeader
	Receiver Value
	Method   Value
}

var _ Object = (*BoundMethod)(nil)

func (b *BoundMethod) String() string { return b.Method.String() }
func (b *BoundMethod) Type() string   { return "function" }

// A List is an instance of the built-in list class with a dynamic array of
// elements as internal storage. Its methods are natives on the class.
type List struct {
	objectHeader
	Class *Class
	Elems []Value
}

var _ Object = (*List)(nil)

func (l *List) String() string {
	s := "["
	for i, e := range l.Elems {
		if i > 0 {
			s += ", "
		}
		if es, ok := e.(*String); ok {
			s += fmt.Sprintf("%q", es.s)
		} else {
			s += e.String()
		}
	}
	return s + "]"
}

func (l *List) Type() string { return "list" }
