package clrhost

// Callbacks is the notification surface a binding drives. Methods are called
// on runtime threads; notifications of one kind are serialized, different
// kinds may interleave.
type Callbacks interface {
	Initialize(host Host) error
	Shutdown() error

	AppDomainCreationStarted(id uintptr) error
	AppDomainCreationFinished(id uintptr, status Status) error
	AppDomainShutdownStarted(id uintptr) error
	AppDomainShutdownFinished(id uintptr, status Status) error

	AssemblyLoadStarted(id AssemblyID) error
	AssemblyLoadFinished(id AssemblyID, status Status) error
	AssemblyUnloadStarted(id AssemblyID) error
	AssemblyUnloadFinished(id AssemblyID, status Status) error

	ModuleLoadStarted(id ModuleID) error
	ModuleLoadFinished(id ModuleID, status Status) error
	ModuleUnloadStarted(id ModuleID) error
	ModuleUnloadFinished(id ModuleID, status Status) error
	ModuleAttachedToAssembly(id ModuleID, assembly AssemblyID) error

	ClassLoadStarted(id ClassID) error
	ClassLoadFinished(id ClassID, status Status) error
	ClassUnloadStarted(id ClassID) error
	ClassUnloadFinished(id ClassID, status Status) error
	FunctionUnloadStarted(id FunctionID) error

	JITCompilationStarted(fn FunctionID, safeToBlock bool) error
	JITCompilationFinished(fn FunctionID, status Status, safeToBlock bool) error
	JITCachedFunctionSearchStarted(fn FunctionID) (useCached bool, err error)
	JITFunctionPitched(fn FunctionID) error
	JITInlining(caller, callee FunctionID) (shouldInline bool, err error)
	DynamicMethodJITCompilationStarted(fn FunctionID, safeToBlock bool, header []byte) error
	DynamicMethodJITCompilationFinished(fn FunctionID, status Status, safeToBlock bool) error
	ReJITCompilationStarted(fn FunctionID, rejitID uintptr, safeToBlock bool) error
	ReJITCompilationFinished(fn FunctionID, rejitID uintptr, status Status, safeToBlock bool) error

	ThreadCreated(id ThreadID) error
	ThreadDestroyed(id ThreadID) error
	ThreadAssignedToOSThread(id ThreadID, osThread uint32) error

	RuntimeSuspendStarted(reason uint32) error
	RuntimeSuspendFinished() error
	RuntimeResumeStarted() error
	RuntimeResumeFinished() error

	GarbageCollectionStarted(generations []bool, reason uint32) error
	GarbageCollectionFinished() error

	ExceptionThrown(object uintptr) error
	ExceptionSearchFunctionEnter(fn FunctionID) error
	ExceptionSearchFunctionLeave() error
	ExceptionUnwindFunctionEnter(fn FunctionID) error
	ExceptionUnwindFunctionLeave() error
}

// NopCallbacks implements every notification as a successful no-op. Embed it
// and override the notifications you care about.
type NopCallbacks struct{}

var _ Callbacks = NopCallbacks{}

func (NopCallbacks) Initialize(Host) error { return nil }
func (NopCallbacks) Shutdown() error       { return nil }

func (NopCallbacks) AppDomainCreationStarted(uintptr) error          { return nil }
func (NopCallbacks) AppDomainCreationFinished(uintptr, Status) error { return nil }
func (NopCallbacks) AppDomainShutdownStarted(uintptr) error          { return nil }
func (NopCallbacks) AppDomainShutdownFinished(uintptr, Status) error { return nil }

func (NopCallbacks) AssemblyLoadStarted(AssemblyID) error            { return nil }
func (NopCallbacks) AssemblyLoadFinished(AssemblyID, Status) error   { return nil }
func (NopCallbacks) AssemblyUnloadStarted(AssemblyID) error          { return nil }
func (NopCallbacks) AssemblyUnloadFinished(AssemblyID, Status) error { return nil }

func (NopCallbacks) ModuleLoadStarted(ModuleID) error                     { return nil }
func (NopCallbacks) ModuleLoadFinished(ModuleID, Status) error            { return nil }
func (NopCallbacks) ModuleUnloadStarted(ModuleID) error                   { return nil }
func (NopCallbacks) ModuleUnloadFinished(ModuleID, Status) error          { return nil }
func (NopCallbacks) ModuleAttachedToAssembly(ModuleID, AssemblyID) error { return nil }

func (NopCallbacks) ClassLoadStarted(ClassID) error            { return nil }
func (NopCallbacks) ClassLoadFinished(ClassID, Status) error   { return nil }
func (NopCallbacks) ClassUnloadStarted(ClassID) error          { return nil }
func (NopCallbacks) ClassUnloadFinished(ClassID, Status) error { return nil }
func (NopCallbacks) FunctionUnloadStarted(FunctionID) error    { return nil }

func (NopCallbacks) JITCompilationStarted(FunctionID, bool) error          { return nil }
func (NopCallbacks) JITCompilationFinished(FunctionID, Status, bool) error { return nil }
func (NopCallbacks) JITCachedFunctionSearchStarted(FunctionID) (bool, error) {
	return true, nil
}
func (NopCallbacks) JITFunctionPitched(FunctionID) error { return nil }
func (NopCallbacks) JITInlining(FunctionID, FunctionID) (bool, error) {
	return true, nil
}
func (NopCallbacks) DynamicMethodJITCompilationStarted(FunctionID, bool, []byte) error {
	return nil
}
func (NopCallbacks) DynamicMethodJITCompilationFinished(FunctionID, Status, bool) error {
	return nil
}
func (NopCallbacks) ReJITCompilationStarted(FunctionID, uintptr, bool) error { return nil }
func (NopCallbacks) ReJITCompilationFinished(FunctionID, uintptr, Status, bool) error {
	return nil
}

func (NopCallbacks) ThreadCreated(ThreadID) error                    { return nil }
func (NopCallbacks) ThreadDestroyed(ThreadID) error                  { return nil }
func (NopCallbacks) ThreadAssignedToOSThread(ThreadID, uint32) error { return nil }

func (NopCallbacks) RuntimeSuspendStarted(uint32) error { return nil }
func (NopCallbacks) RuntimeSuspendFinished() error      { return nil }
func (NopCallbacks) RuntimeResumeStarted() error        { return nil }
func (NopCallbacks) RuntimeResumeFinished() error       { return nil }

func (NopCallbacks) GarbageCollectionStarted([]bool, uint32) error { return nil }
func (NopCallbacks) GarbageCollectionFinished() error               { return nil }

func (NopCallbacks) ExceptionThrown(uintptr) error                 { return nil }
func (NopCallbacks) ExceptionSearchFunctionEnter(FunctionID) error { return nil }
func (NopCallbacks) ExceptionSearchFunctionLeave() error           { return nil }
func (NopCallbacks) ExceptionUnwindFunctionEnter(FunctionID) error { return nil }
func (NopCallbacks) ExceptionUnwindFunctionLeave() error           { return nil }
