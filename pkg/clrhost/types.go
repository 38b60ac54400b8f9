package clrhost

import "fmt"

// Runtime-assigned handles.
type (
	ModuleID   uintptr
	ClassID    uintptr
	FunctionID uintptr
	AssemblyID uintptr
	ThreadID   uintptr
)

// NilClass is the class handle reported for compilation units that have no
// concrete declaring class (shared generic code, free-standing stubs).
const NilClass ClassID = 0

// Token is a metadata token: the high byte is the table, the rest the row.
type Token uint32

// Typed tokens.
type (
	TypeDef   = Token
	MethodDef = Token
	Signature = Token
)

// Metadata table identifiers found in the high byte of a token.
const (
	TableTypeDef   Token = 0x02000000
	TableMethodDef Token = 0x06000000
	TableSignature Token = 0x11000000
)

// Table returns the table part of the token.
func (t Token) Table() Token { return t & 0xff000000 }

// Row returns the row part of the token.
func (t Token) Row() uint32 { return uint32(t & 0x00ffffff) }

func (t Token) String() string { return fmt.Sprintf("0x%08x", uint32(t)) }

// OpenFlags selects the access mode when opening module metadata.
type OpenFlags uint32

const (
	OpenRead  OpenFlags = 0x0
	OpenWrite OpenFlags = 0x1
)

// Calling convention and element type bytes used to describe hook signatures.
const (
	CallConvStdCall byte = 0x07
	ElementTypeVoid byte = 0x01
	ElementTypeI    byte = 0x18
)

// HookSignature describes the shape of the entry and exit hooks: a
// standard-call function taking one native-int argument and returning void.
var HookSignature = []byte{CallConvStdCall, 0x01, ElementTypeVoid, ElementTypeI}

// FunctionInfo identifies the metadata behind a compiled function.
type FunctionInfo struct {
	Class  ClassID
	Module ModuleID
	Token  MethodDef
}

// ClassInfo identifies the type definition behind a loaded class.
type ClassInfo struct {
	Module  ModuleID
	TypeDef TypeDef
	Parent  ClassID
}

// ModuleInfo describes a loaded module.
type ModuleInfo struct {
	// Path is the load path as reported by the runtime.
	Path     string
	Assembly AssemblyID
	Base     uintptr
}

// TypeDefProps are the properties of a type definition row.
type TypeDefProps struct {
	Name    string
	Flags   uint32
	Extends Token
}

// MethodProps are the properties of a method definition row.
type MethodProps struct {
	Class     TypeDef
	Name      string
	Attrs     uint32
	Signature []byte
	CodeRVA   uint32
	ImplFlags uint32
}
