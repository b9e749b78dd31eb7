// Package schema describes the tagged-variant type system the wire
// codec encodes and decodes against: the fixed set of scalar kinds
// plus the composite List/Set/Tuple/Dictionary/Class/Enumeration/
// ProcedureCall/Protobuf shapes a dynamically-described API can name.
//
// A Type value is itself just data — it carries no behavior — so that
// it can be constructed either by a (future, out-of-scope) code
// generator reading the server's JSON service descriptors, or directly
// by test code and ad-hoc callers, per the teacher's own descriptor
// philosophy of keeping descriptors inert and letting other packages
// (here, codec) interpret them.
package schema

import "fmt"

// Kind identifies which arm of the Type variant is populated.
type Kind int

const (
	Bool Kind = iota
	Bytes
	String
	Float
	Double
	SInt32
	UInt32
	UInt64
	List
	Set
	Tuple
	Dictionary
	Class
	Enumeration
	ProcedureCall
	Protobuf
)

func (k Kind) String() string {
	switch k {
	case Bool:
		return "Bool"
	case Bytes:
		return "Bytes"
	case String:
		return "String"
	case Float:
		return "Float"
	case Double:
		return "Double"
	case SInt32:
		return "SInt32"
	case UInt32:
		return "UInt32"
	case UInt64:
		return "UInt64"
	case List:
		return "List"
	case Set:
		return "Set"
	case Tuple:
		return "Tuple"
	case Dictionary:
		return "Dictionary"
	case Class:
		return "Class"
	case Enumeration:
		return "Enumeration"
	case ProcedureCall:
		return "ProcedureCall"
	case Protobuf:
		return "Protobuf"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Type is a tagged variant over the wire type system described in
// spec §3. Only the fields relevant to Kind are populated; the rest
// are zero.
type Type struct {
	Kind Kind

	// List, Set
	Elem *Type

	// Tuple
	Items []*Type

	// Dictionary
	Key, Value *Type

	// Class, Enumeration: the owning service and the type's name.
	Service, Name string

	// Enumeration: the server's declared values, keyed by wire integer.
	// Nil means the set of legal values is unknown (e.g. a Type built
	// by hand rather than from a service descriptor); decode is then
	// permissive. Non-nil means decode of any integer outside this map
	// is a ProtocolError, per spec §4.2.
	EnumValues map[int32]string

	// Protobuf: the message's fully-qualified name, informational only.
	ProtoName string
}

func scalar(k Kind) *Type { return &Type{Kind: k} }

func NewBool() *Type   { return scalar(Bool) }
func NewBytes() *Type  { return scalar(Bytes) }
func NewString() *Type { return scalar(String) }
func NewFloat() *Type  { return scalar(Float) }
func NewDouble() *Type { return scalar(Double) }
func NewSInt32() *Type { return scalar(SInt32) }
func NewUInt32() *Type { return scalar(UInt32) }
func NewUInt64() *Type { return scalar(UInt64) }

func NewList(elem *Type) *Type { return &Type{Kind: List, Elem: elem} }
func NewSet(elem *Type) *Type  { return &Type{Kind: Set, Elem: elem} }
func NewTuple(items ...*Type) *Type {
	cp := make([]*Type, len(items))
	copy(cp, items)
	return &Type{Kind: Tuple, Items: cp}
}
func NewDictionary(key, value *Type) *Type {
	return &Type{Kind: Dictionary, Key: key, Value: value}
}
func NewClass(service, name string) *Type {
	return &Type{Kind: Class, Service: service, Name: name}
}
func NewEnumeration(service, name string) *Type {
	return &Type{Kind: Enumeration, Service: service, Name: name}
}

// NewEnumerationValues is NewEnumeration with a known value set, making
// decode strict: an integer outside values is a ProtocolError.
func NewEnumerationValues(service, name string, values map[int32]string) *Type {
	return &Type{Kind: Enumeration, Service: service, Name: name, EnumValues: values}
}
func NewProcedureCall() *Type { return scalar(ProcedureCall) }
func NewProtobuf(name string) *Type {
	return &Type{Kind: Protobuf, ProtoName: name}
}

// String renders a human-readable type name, mostly useful in error
// messages and tests.
func (t *Type) String() string {
	if t == nil {
		return "<nil type>"
	}
	switch t.Kind {
	case List:
		return fmt.Sprintf("List<%s>", t.Elem)
	case Set:
		return fmt.Sprintf("Set<%s>", t.Elem)
	case Tuple:
		return fmt.Sprintf("Tuple%v", t.Items)
	case Dictionary:
		return fmt.Sprintf("Dictionary<%s,%s>", t.Key, t.Value)
	case Class:
		return fmt.Sprintf("Class{%s.%s}", t.Service, t.Name)
	case Enumeration:
		return fmt.Sprintf("Enumeration{%s.%s}", t.Service, t.Name)
	case Protobuf:
		return fmt.Sprintf("Protobuf{%s}", t.ProtoName)
	default:
		return t.Kind.String()
	}
}
