// Package vm defines the contracts the tool interface consumes from the managed runtime:
// the object model, the interpreter's threads and frames, instruction memory, handles, and
// the collector's root scanning. The tool interface never mutates runtime state except
// through these contracts.
package vm

import (
	"fmt"
	"math"
)

// ObjectID identifies a heap object. Null is the zero value.
type ObjectID uint64

// Null is the null reference.
const Null ObjectID = 0

// ThreadID identifies a runtime thread for its whole lifetime.
type ThreadID uint64

// FrameID identifies an active stack frame. A frame ID may be reused by a later frame once
// the original frame has unwound.
type FrameID uint64

// MethodID identifies a method.
type MethodID uint64

// FieldID identifies a field.
type FieldID uint64

// Address is an absolute code address.
type Address uint64

// Location is a program counter relative to the start of a method's code.
type Location int64

// BasicType is the runtime type tag of a value.
type BasicType uint8

const (
	TypeObject  BasicType = 2
	TypeBoolean BasicType = 4
	TypeChar    BasicType = 5
	TypeFloat   BasicType = 6
	TypeDouble  BasicType = 7
	TypeByte    BasicType = 8
	TypeShort   BasicType = 9
	TypeInt     BasicType = 10
	TypeLong    BasicType = 11
)

// Size returns the element size in bytes of a primitive type, or 0 for references.
func (t BasicType) Size() int {
	switch t {
	case TypeBoolean, TypeByte:
		return 1
	case TypeChar, TypeShort:
		return 2
	case TypeFloat, TypeInt:
		return 4
	case TypeDouble, TypeLong:
		return 8
	default:
		return 0
	}
}

// IsPrimitive reports whether t is a scalar type.
func (t BasicType) IsPrimitive() bool {
	return t.Size() > 0
}

// String returns the type's descriptor character.
func (t BasicType) String() string {
	switch t {
	case TypeObject:
		return "L"
	case TypeBoolean:
		return "Z"
	case TypeChar:
		return "C"
	case TypeFloat:
		return "F"
	case TypeDouble:
		return "D"
	case TypeByte:
		return "B"
	case TypeShort:
		return "S"
	case TypeInt:
		return "I"
	case TypeLong:
		return "J"
	default:
		return fmt.Sprintf("BasicType(%d)", uint8(t))
	}
}

// Value is a typed slot value. Primitive payloads are stored as raw bits.
type Value struct {
	Type BasicType
	Bits uint64
	Ref  ObjectID
}

// RefValue creates a reference Value.
func RefValue(ref ObjectID) Value {
	return Value{Type: TypeObject, Ref: ref}
}

// IntValue creates an int Value.
func IntValue(v int32) Value {
	return Value{Type: TypeInt, Bits: uint64(uint32(v))}
}

// LongValue creates a long Value.
func LongValue(v int64) Value {
	return Value{Type: TypeLong, Bits: uint64(v)}
}

// BoolValue creates a boolean Value.
func BoolValue(v bool) Value {
	if v {
		return Value{Type: TypeBoolean, Bits: 1}
	}
	return Value{Type: TypeBoolean}
}

// CharValue creates a char Value.
func CharValue(v uint16) Value {
	return Value{Type: TypeChar, Bits: uint64(v)}
}

// ByteValue creates a byte Value.
func ByteValue(v int8) Value {
	return Value{Type: TypeByte, Bits: uint64(uint8(v))}
}

// ShortValue creates a short Value.
func ShortValue(v int16) Value {
	return Value{Type: TypeShort, Bits: uint64(uint16(v))}
}

// FloatValue creates a float Value.
func FloatValue(v float32) Value {
	return Value{Type: TypeFloat, Bits: uint64(math.Float32bits(v))}
}

// DoubleValue creates a double Value.
func DoubleValue(v float64) Value {
	return Value{Type: TypeDouble, Bits: math.Float64bits(v)}
}

// Int returns the value as an int32.
func (v Value) Int() int32 {
	return int32(uint32(v.Bits))
}

// Long returns the value as an int64.
func (v Value) Long() int64 {
	return int64(v.Bits)
}

// IsRef reports whether the value holds a reference.
func (v Value) IsRef() bool {
	return v.Type == TypeObject
}

// Field describes a declared field.
type Field struct {
	ID        FieldID
	Name      string
	Signature string
	Type      BasicType
	Static    bool
}

// ConstantRef is a resolved constant-pool entry that refers to a heap object.
type ConstantRef struct {
	Index  int
	Object ObjectID
}

// Class is the metadata of a loaded class. ID is the class's own mirror object.
type Class struct {
	ID               ObjectID
	Name             string
	Super            ObjectID
	Interfaces       []ObjectID
	Loader           ObjectID
	Signers          ObjectID
	ProtectionDomain ObjectID
	Fields           []Field
	ConstantPool     []ConstantRef

	// Array is set for array classes; ElementType is the element type tag.
	Array       bool
	ElementType BasicType

	// Text is set for the designated text type whose instances carry a character buffer.
	Text bool

	// Resident is set for permanently resident system classes.
	Resident bool
}

// Method describes a method and the location of its code.
type Method struct {
	ID         MethodID
	Class      ObjectID
	Name       string
	Signature  string
	Native     bool
	Start      Address
	CodeLength int
	MaxLocals  int
}

// AddressOf returns the absolute code address of a location within the method.
func (m *Method) AddressOf(loc Location) Address {
	return m.Start + Address(loc)
}

// Frame is a read-only view of an interpreter frame.
type Frame struct {
	ID     FrameID
	Method *Method
	PC     Location
	Locals []Value
}
