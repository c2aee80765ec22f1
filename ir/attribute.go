package ir

// AttributeKind distinguishes the side-table entries a Function can
// attach to a Reg or a pair of Regs.
type AttributeKind uint8

const (
	AttrNone AttributeKind = iota
	AttrRestrictNoAlias
)

// Attribute is a pool-allocated side-table entry (spec.md §3). Index 0
// of a Function's attribute pool is reserved and never returned by
// AddAttribute.
type Attribute struct {
	Kind AttributeKind
	A, B Reg
}

// AddAttribute appends attr to f's attribute pool and returns its index.
func (f *Function) AddAttribute(attr Attribute) int {
	if len(f.attribPool) == 0 {
		f.attribPool = append(f.attribPool, Attribute{})
	}
	f.attribPool = append(f.attribPool, attr)
	return len(f.attribPool) - 1
}

// Attribute returns the attribute pool entry at idx, or the zero value
// for idx == 0.
func (f *Function) Attribute(idx int) Attribute {
	if idx <= 0 || idx >= len(f.attribPool) {
		return Attribute{}
	}
	return f.attribPool[idx]
}
