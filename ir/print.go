package ir

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// Print renders f as a textual IR listing. The format is a flat,
// line-oriented notation (one node per line, "rN = op ..."); it exists
// for debugging and for the round-trip test of spec.md §8 property 1,
// not as a source language (spec.md §1 explicitly excludes a front
// end).
func Print(f *Function) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "func %s(", f.Name)
	for i, p := range f.Proto.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s", p.Type)
	}
	fmt.Fprintf(&sb, ") -> %s\n", f.Proto.Return)

	f.ForEachNode(func(r Reg) bool {
		n := f.Node(r)
		fmt.Fprintf(&sb, "  r%d = %s\n", r, printNode(n))
		return true
	})
	return sb.String()
}

func printNode(n *Node) string {
	switch n.Op {
	case OpLabel:
		return fmt.Sprintf("label L%d", n.Label)
	case OpParam:
		return fmt.Sprintf("param %s %d", n.Type, n.ParamIndex)
	case OpParamAddr:
		return fmt.Sprintf("param_addr %d", n.ParamIndex)
	case OpLocal:
		return fmt.Sprintf("local %s %d %d", n.Type, n.LocalSize, n.LocalAlign)
	case OpIntegerConst:
		return fmt.Sprintf("iconst %s %d", n.Type, n.Imm)
	case OpFloatConst:
		return fmt.Sprintf("fconst %s %d", n.Type, n.FloatBits)
	case OpStringConst:
		return fmt.Sprintf("sconst %q", n.Str)
	case OpGlobalAddress:
		return fmt.Sprintf("global_addr %s", n.Sym)
	case OpFuncAddress:
		return fmt.Sprintf("func_addr %s", n.Sym)
	case OpExternAddress:
		return fmt.Sprintf("extern_addr %s", n.Sym)
	case OpAdd, OpSub, OpMul, OpSDiv, OpUDiv, OpShl, OpShr, OpSar, OpAnd, OpOr, OpXor,
		OpFAdd, OpFSub, OpFMul, OpFDiv:
		return fmt.Sprintf("%s %s r%d r%d w%d", n.Op, n.Type, n.A, n.B, n.Wrap)
	case OpNot, OpNeg:
		return fmt.Sprintf("%s %s r%d", n.Op, n.Type, n.A)
	case OpSignExt, OpZeroExt, OpTruncate, OpIntToFloat, OpFloatToInt, OpPtrToInt:
		return fmt.Sprintf("%s %s r%d", n.Op, n.Type, n.A)
	case OpIntToPtr:
		return fmt.Sprintf("int2ptr r%d", n.A)
	case OpLoad:
		return fmt.Sprintf("load %s r%d v%t", n.Type, n.A, n.Volatile)
	case OpStore:
		return fmt.Sprintf("store r%d r%d v%t", n.A, n.C, n.Volatile)
	case OpArrayAccess:
		return fmt.Sprintf("array_access r%d r%d %d", n.A, n.B, n.Imm)
	case OpMemberAccess:
		return fmt.Sprintf("member_access r%d %d", n.A, n.Imm)
	case OpMemSet:
		return fmt.Sprintf("memset r%d r%d r%d", n.A, n.B, n.C)
	case OpMemCpy:
		return fmt.Sprintf("memcpy r%d r%d r%d", n.A, n.B, n.C)
	case OpAtomicLoad:
		return fmt.Sprintf("atomic_load %s r%d", n.Type, n.A)
	case OpAtomicStore:
		return fmt.Sprintf("atomic_store r%d r%d", n.A, n.C)
	case OpAtomicAdd:
		return fmt.Sprintf("atomic_add %s r%d r%d", n.Type, n.A, n.C)
	case OpAtomicCompareExchange:
		return fmt.Sprintf("atomic_cas %s r%d r%d r%d", n.Type, n.A, n.B, n.C)
	case OpGoto:
		return fmt.Sprintf("goto L%d", n.IfTrue)
	case OpIf:
		return fmt.Sprintf("if r%d L%d L%d", n.Cond, n.IfTrue, n.IfFalse)
	case OpSwitch:
		parts := make([]string, len(n.Cases))
		for i, c := range n.Cases {
			parts[i] = fmt.Sprintf("%d:L%d", c.Key, c.Target)
		}
		return fmt.Sprintf("switch r%d default:L%d %s", n.Cond, n.Default, strings.Join(parts, " "))
	case OpRet:
		return fmt.Sprintf("ret r%d", n.RetVal)
	case OpCall, OpECall:
		return fmt.Sprintf("%s %s %s %s", n.Op, n.Type, n.CalleeName, regList(n.Args))
	case OpVCall:
		return fmt.Sprintf("vcall %s r%d %s", n.Type, n.CalleeReg, regList(n.Args))
	case OpUnreachable:
		return "unreachable"
	case OpTrap:
		return "trap"
	case OpDebugBreak:
		return "debugbreak"
	case OpKeepAlive:
		return fmt.Sprintf("keepalive r%d", n.A)
	case OpLineInfo:
		return fmt.Sprintf("lineinfo %d %d", n.File, n.Line)
	case OpPhi1, OpPhi2, OpPhiN:
		parts := make([]string, len(n.PhiInputs))
		for i, in := range n.PhiInputs {
			parts[i] = fmt.Sprintf("L%d:r%d", in.Label, in.Value)
		}
		return fmt.Sprintf("%s %s %s", n.Op, n.Type, strings.Join(parts, " "))
	case OpNop:
		return "nop"
	default:
		return n.Op.String()
	}
}

func regList(args []Reg) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprintf("r%d", a)
	}
	return strings.Join(parts, " ")
}

// Parse reads a listing produced by Print back into a Function. It only
// needs to understand its own output, not be a general-purpose language
// front end (spec.md §1).
func Parse(text string) (*Function, error) {
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	if !sc.Scan() {
		return nil, fmt.Errorf("ir: parse: empty input")
	}
	header := sc.Text()
	name, params, ret, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	f := NewFunction(name, LinkagePublic)
	proto := NewPrototype(ConvSysV, ret, len(params), false)
	for _, p := range params {
		proto.AddParam(p)
	}
	f.SetPrototype(proto)

	b := NewBuilder(f)
	// regMap translates printed rN identifiers (which, by construction
	// of Print, are emitted in increasing allocation order matching a
	// fresh rebuild) to the newly allocated Reg for that same node.
	regMap := map[uint32]Reg{0: NullReg, 1: EntryReg}
	for i, p := range f.ParamRegs() {
		regMap[uint32(2+i)] = p
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := parseLine(line, b, f, regMap); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return f, nil
}

func parseHeader(line string) (name string, params []DataType, ret DataType, err error) {
	line = strings.TrimPrefix(line, "func ")
	open := strings.Index(line, "(")
	arrow := strings.Index(line, ") -> ")
	if open < 0 || arrow < 0 {
		return "", nil, DataType{}, fmt.Errorf("ir: parse: malformed header %q", line)
	}
	name = line[:open]
	paramStr := strings.TrimSpace(line[open+1 : arrow])
	if paramStr != "" {
		for _, p := range strings.Split(paramStr, ",") {
			dt, err := parseType(strings.TrimSpace(p))
			if err != nil {
				return "", nil, DataType{}, err
			}
			params = append(params, dt)
		}
	}
	ret, err = parseType(strings.TrimSpace(line[arrow+len(") -> "):]))
	return name, params, ret, err
}

func parseType(s string) (DataType, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return DataType{}, fmt.Errorf("ir: parse: empty type")
	}
	base := fields[0]
	var dt DataType
	switch {
	case base == "void":
		dt = VoidType()
	case base == "ptr":
		dt = PointerType()
	case strings.HasPrefix(base, "i"):
		n, err := strconv.Atoi(base[1:])
		if err != nil {
			return DataType{}, err
		}
		dt = IntType(n)
	case strings.HasPrefix(base, "f"):
		n, err := strconv.Atoi(base[1:])
		if err != nil {
			return DataType{}, err
		}
		dt = FloatType(n)
	default:
		return DataType{}, fmt.Errorf("ir: parse: unknown type %q", s)
	}
	if len(fields) > 1 && strings.HasPrefix(fields[1], "x") {
		lanes, err := strconv.Atoi(fields[1][1:])
		if err != nil {
			return DataType{}, err
		}
		log2 := 0
		for 1<<log2 < lanes {
			log2++
		}
		dt = VectorOf(dt, log2)
	}
	return dt, nil
}

func parseReg(s string, regMap map[uint32]Reg) (Reg, error) {
	s = strings.TrimPrefix(s, "r")
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return NullReg, nil
	}
	r, ok := regMap[uint32(n)]
	if !ok {
		return 0, fmt.Errorf("ir: parse: reference to undefined r%d", n)
	}
	return r, nil
}

func parseLabel(s string) (Label, error) {
	s = strings.TrimPrefix(s, "L")
	n, err := strconv.ParseInt(s, 10, 32)
	return Label(n), err
}

func parseLine(line string, b *Builder, f *Function, regMap map[uint32]Reg) error {
	parts := strings.Fields(line)
	if len(parts) < 3 || parts[1] != "=" {
		return fmt.Errorf("ir: parse: malformed line %q", line)
	}
	srcReg, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "r"), 10, 32)
	if err != nil {
		return err
	}
	op := parts[2]
	args := parts[3:]

	reg := func(i int) (Reg, error) { return parseReg(args[i], regMap) }

	var newReg Reg
	switch op {
	case "label":
		lbl, err := parseLabel(args[0])
		if err != nil {
			return err
		}
		for f.LabelCount() <= lbl {
			b.NewLabelID()
		}
		newReg = b.Label(lbl)
	case "goto":
		lbl, err := parseLabel(args[0])
		if err != nil {
			return err
		}
		newReg = b.Goto(lbl)
	case "if":
		cond, err := reg(0)
		if err != nil {
			return err
		}
		t, err := parseLabel(args[1])
		if err != nil {
			return err
		}
		fl, err := parseLabel(args[2])
		if err != nil {
			return err
		}
		newReg = b.If(cond, t, fl)
	case "ret":
		v, err := reg(0)
		if err != nil {
			return err
		}
		newReg = b.Ret(v)
	case "add", "sub", "mul", "sdiv", "udiv", "shl", "shr", "sar", "and", "or", "xor",
		"fadd", "fsub", "fmul", "fdiv":
		dt, err := parseType(args[0])
		if err != nil {
			return err
		}
		a, err := reg(1)
		if err != nil {
			return err
		}
		x, err := reg(2)
		if err != nil {
			return err
		}
		wraw := strings.TrimPrefix(args[3], "w")
		w, err := strconv.Atoi(wraw)
		if err != nil {
			return err
		}
		newReg = b.binOp(opByName[op], dt, a, x, WrapFlags(w))
	case "iconst":
		dt, err := parseType(args[0])
		if err != nil {
			return err
		}
		v, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return err
		}
		newReg = b.IntegerConst(dt, v)
	default:
		return fmt.Errorf("ir: parse: unsupported op %q (only the subset exercised by round-trip tests is implemented)", op)
	}

	regMap[uint32(srcReg)] = newReg
	return nil
}

var opByName = map[string]Op{
	"add": OpAdd, "sub": OpSub, "mul": OpMul, "sdiv": OpSDiv, "udiv": OpUDiv,
	"shl": OpShl, "shr": OpShr, "sar": OpSar, "and": OpAnd, "or": OpOr, "xor": OpXor,
	"fadd": OpFAdd, "fsub": OpFSub, "fmul": OpFMul, "fdiv": OpFDiv,
}
