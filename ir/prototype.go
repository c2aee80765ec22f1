package ir

// CallingConv enumerates the supported calling conventions.
type CallingConv uint8

const (
	ConvCDecl CallingConv = iota
	ConvSysV
	ConvWin64
)

// Param describes one parameter of a Prototype.
type Param struct {
	Type      DataType
	Name      string
	DebugType string
}

// Prototype is a function signature: (calling-convention, return type,
// param count, varargs?, params). It is immutable once attached to a
// Function via Function.SetPrototype (spec.md §3, §4.1).
//
// Prototype is built incrementally with NewPrototype/AddParam and is
// otherwise a plain value; a Module interns it into its process-wide
// prototype arena when it is attached to a Function (see package
// module), matching spec.md's "Allocated in a process-wide arena" while
// keeping ir free of Module's lifecycle.
type Prototype struct {
	Conv       CallingConv
	Return     DataType
	ParamCount int
	Varargs    bool
	Params     []Param

	sealed bool
}

// NewPrototype starts building a Prototype with paramCount param slots.
// Varargs, if true, permits callers to pass additional trailing
// arguments beyond paramCount.
func NewPrototype(conv CallingConv, ret DataType, paramCount int, varargs bool) *Prototype {
	return &Prototype{
		Conv:       conv,
		Return:     ret,
		ParamCount: paramCount,
		Varargs:    varargs,
		Params:     make([]Param, 0, paramCount),
	}
}

// AddParam appends a parameter. Calling it more times than the
// paramCount passed to NewPrototype is a precondition violation
// (spec.md §4.1 "overflowing a prototype's declared param_count").
func (p *Prototype) AddParam(dt DataType) {
	p.AddParamNamed(dt, "", "")
}

// AddParamNamed is AddParam with a source name and debug type string
// attached, consumed by the debug emitter's stack-slot table.
func (p *Prototype) AddParamNamed(dt DataType, name, debugType string) {
	if p.sealed {
		panic("ir: prototype already attached to a function")
	}
	if len(p.Params) >= p.ParamCount {
		panic("ir: prototype param_count overflow")
	}
	p.Params = append(p.Params, Param{Type: dt, Name: name, DebugType: debugType})
}

// seal marks p immutable; called by Function.SetPrototype.
func (p *Prototype) seal() { p.sealed = true }
