package clrhost

// Enum is an opaque cursor used by paged metadata enumeration. The zero
// value starts a new enumeration.
type Enum uintptr

// ProfilerInfo resolves runtime handles and opens module metadata.
type ProfilerInfo interface {
	FunctionInfo(fn FunctionID) (FunctionInfo, error)
	ClassIDInfo(class ClassID) (ClassInfo, error)
	ModuleInfo(module ModuleID) (ModuleInfo, error)
	ModuleMetadata(module ModuleID, flags OpenFlags) (Metadata, error)
	// Release drops the engine's reference to the runtime interface.
	Release()
}

// MetadataImport reads module metadata.
//
// EnumTypeDefs and EnumMethods fill buf starting at the position held by
// *e and return the number of tokens written; zero means the enumeration is
// exhausted. CloseEnum releases the cursor.
type MetadataImport interface {
	EnumTypeDefs(e *Enum, buf []TypeDef) (int, error)
	EnumMethods(e *Enum, td TypeDef, buf []MethodDef) (int, error)
	CloseEnum(e Enum)
	TypeDefProps(td TypeDef) (TypeDefProps, error)
	MethodProps(md MethodDef) (MethodProps, error)
}

// MetadataEmit writes module metadata.
type MetadataEmit interface {
	// TokenFromSig returns the token of a standalone signature blob,
	// creating it if the module does not have it yet.
	TokenFromSig(sig []byte) (Signature, error)
}

// Metadata is an opened metadata scope. Scopes opened read-only may return
// an error from the Emit side.
type Metadata interface {
	MetadataImport
	MetadataEmit
}

// RewriteRequest asks the rewriter to wrap one method body with calls to the
// entry and exit hooks. Both hooks receive Function as their sole argument.
type RewriteRequest struct {
	Module    ModuleID
	Method    MethodDef
	Function  FunctionID
	Enter     uintptr
	Leave     uintptr
	Signature Signature
}

// Rewriter replaces a method body with an instrumented, behaviorally
// equivalent one: Enter runs before the original body and Leave before every
// return path.
type Rewriter interface {
	Rewrite(req RewriteRequest) error
}

// Host bundles the capabilities a binding hands to the engine at
// initialization.
type Host struct {
	Info     ProfilerInfo
	Rewriter Rewriter
}
