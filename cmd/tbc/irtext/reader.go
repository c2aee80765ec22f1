package irtext

import (
	"encoding/hex"
	"strconv"

	"github.com/pkg/errors"

	"github.com/tbkit/tb/ir"
	"github.com/tbkit/tb/module"
)

// Program is everything a textual IR file declares: the functions ready
// to hand to module.Module.AddFunction/CompileFunction(s), the globals
// for module.Module.AddGlobal, and the externals for AddExternal.
type Program struct {
	Functions []*ir.Function
	Globals   []module.Global
	Externs   []string
}

// Parse reads a complete tbc textual IR source file.
func Parse(src string) (*Program, error) {
	forms, err := parseAll(src)
	if err != nil {
		return nil, err
	}
	p := &Program{}
	for _, f := range forms {
		head, rest, err := f.head()
		if err != nil {
			return nil, err
		}
		switch head {
		case "func":
			fn, err := parseFunc(rest)
			if err != nil {
				return nil, err
			}
			p.Functions = append(p.Functions, fn)
		case "global":
			g, err := parseGlobal(rest)
			if err != nil {
				return nil, err
			}
			p.Globals = append(p.Globals, g)
		case "extern":
			if len(rest) != 1 || !rest[0].isAtom {
				return nil, errors.New("irtext: (extern NAME) takes exactly one atom")
			}
			p.Externs = append(p.Externs, rest[0].atom)
		default:
			return nil, errors.Errorf("irtext: unknown top-level form %q", head)
		}
	}
	return p, nil
}

func parseGlobal(rest []*expr) (module.Global, error) {
	if len(rest) < 2 || !rest[0].isAtom || !rest[1].isAtom {
		return module.Global{}, errors.New("irtext: (global NAME SIZE [HEX]) malformed")
	}
	size, err := strconv.ParseUint(rest[1].atom, 10, 32)
	if err != nil {
		return module.Global{}, errors.Wrapf(err, "irtext: global %q size", rest[0].atom)
	}
	g := module.Global{Name: rest[0].atom, Size: uint32(size)}
	if len(rest) >= 3 {
		if !rest[2].isAtom {
			return module.Global{}, errors.New("irtext: global init must be a hex atom")
		}
		data, err := hex.DecodeString(rest[2].atom)
		if err != nil {
			return module.Global{}, errors.Wrapf(err, "irtext: global %q init bytes", rest[0].atom)
		}
		g.Init = data
	}
	return g, nil
}

func parseType(a *expr) (ir.DataType, error) {
	if a == nil || !a.isAtom {
		return ir.DataType{}, errors.New("irtext: expected a type atom")
	}
	switch a.atom {
	case "void":
		return ir.VoidType(), nil
	case "ptr":
		return ir.PointerType(), nil
	case "i1":
		return ir.IntType(1), nil
	case "i8":
		return ir.IntType(8), nil
	case "i16":
		return ir.IntType(16), nil
	case "i32":
		return ir.IntType(32), nil
	case "i64":
		return ir.IntType(64), nil
	case "f32":
		return ir.FloatType(32), nil
	case "f64":
		return ir.FloatType(64), nil
	default:
		return ir.DataType{}, errors.Errorf("irtext: unknown type %q", a.atom)
	}
}

// parseFunc reads (func NAME (PARAMTYPE...) RETTYPE LINKAGE BLOCK...).
func parseFunc(rest []*expr) (*ir.Function, error) {
	if len(rest) < 4 {
		return nil, errors.New("irtext: func form too short")
	}
	name, rest := rest[0], rest[1:]
	if !name.isAtom {
		return nil, errors.New("irtext: func name must be an atom")
	}
	paramsList, rest := rest[0], rest[1:]
	if paramsList.isAtom {
		return nil, errors.New("irtext: func param type list must be parenthesized")
	}
	retTy, rest := rest[0], rest[1:]
	ret, err := parseType(retTy)
	if err != nil {
		return nil, err
	}
	linkAtom, blocks := rest[0], rest[1:]
	if !linkAtom.isAtom {
		return nil, errors.New("irtext: func linkage must be an atom")
	}
	linkage := ir.LinkagePrivate
	switch linkAtom.atom {
	case "public":
		linkage = ir.LinkagePublic
	case "private":
		linkage = ir.LinkagePrivate
	default:
		return nil, errors.Errorf("irtext: unknown linkage %q", linkAtom.atom)
	}

	f := ir.NewFunction(name.atom, linkage)
	proto := ir.NewPrototype(ir.ConvSysV, ret, len(paramsList.list), false)
	for _, pt := range paramsList.list {
		dt, err := parseType(pt)
		if err != nil {
			return nil, err
		}
		proto.AddParam(dt)
	}
	f.SetPrototype(proto)

	b := ir.NewBuilder(f)
	sc := &scope{vars: map[string]ir.Reg{}, labels: map[string]ir.Label{}}
	for i, r := range f.ParamRegs() {
		sc.vars["%p"+strconv.Itoa(i)] = r
	}

	// Reserve every block's label ordinal up front so forward if/goto
	// references resolve regardless of block order in the source.
	type blockForm struct {
		name string
		body []*expr
	}
	var blockForms []blockForm
	for _, blk := range blocks {
		bhead, brest, err := blk.head()
		if err != nil {
			return nil, err
		}
		if bhead != "block" {
			return nil, errors.Errorf("irtext: expected (block ...), got %q", bhead)
		}
		if len(brest) == 0 || !brest[0].isAtom {
			return nil, errors.New("irtext: block name must be an atom")
		}
		id := b.NewLabelID()
		sc.labels[brest[0].atom] = id
		blockForms = append(blockForms, blockForm{name: brest[0].atom, body: brest[1:]})
	}

	for _, blk := range blockForms {
		b.Label(sc.labels[blk.name])
		for _, stmt := range blk.body {
			if err := evalStmt(b, sc, stmt); err != nil {
				return nil, errors.Wrapf(err, "irtext: func %q block %q", name.atom, blk.name)
			}
		}
	}

	return f, nil
}

// scope tracks %name -> Reg bindings and label name -> ir.Label within
// one function body.
type scope struct {
	vars   map[string]ir.Reg
	labels map[string]ir.Label
}

func evalStmt(b *ir.Builder, sc *scope, e *expr) error {
	head, rest, err := e.head()
	if err != nil {
		return err
	}
	switch head {
	case "let":
		if len(rest) != 2 || !rest[0].isAtom {
			return errors.New("irtext: (let NAME EXPR) malformed")
		}
		r, err := evalExpr(b, sc, rest[1])
		if err != nil {
			return err
		}
		sc.vars[rest[0].atom] = r
		return nil
	case "if":
		if len(rest) != 3 || !rest[1].isAtom || !rest[2].isAtom {
			return errors.New("irtext: (if EXPR THEN ELSE) malformed")
		}
		cond, err := evalExpr(b, sc, rest[0])
		if err != nil {
			return err
		}
		t, ok := sc.labels[rest[1].atom]
		if !ok {
			return errors.Errorf("irtext: undefined label %q", rest[1].atom)
		}
		f, ok := sc.labels[rest[2].atom]
		if !ok {
			return errors.Errorf("irtext: undefined label %q", rest[2].atom)
		}
		b.If(cond, t, f)
		return nil
	case "goto":
		if len(rest) != 1 || !rest[0].isAtom {
			return errors.New("irtext: (goto LABEL) malformed")
		}
		l, ok := sc.labels[rest[0].atom]
		if !ok {
			return errors.Errorf("irtext: undefined label %q", rest[0].atom)
		}
		b.Goto(l)
		return nil
	case "ret":
		if len(rest) == 0 {
			b.Ret(ir.NullReg)
			return nil
		}
		if len(rest) != 1 {
			return errors.New("irtext: (ret [EXPR]) malformed")
		}
		r, err := evalExpr(b, sc, rest[0])
		if err != nil {
			return err
		}
		b.Ret(r)
		return nil
	case "store":
		if len(rest) != 2 {
			return errors.New("irtext: (store ADDR VAL) malformed")
		}
		addr, err := evalExpr(b, sc, rest[0])
		if err != nil {
			return err
		}
		val, err := evalExpr(b, sc, rest[1])
		if err != nil {
			return err
		}
		b.Store(addr, val, false)
		return nil
	default:
		// An expression used as a statement purely for its side effect
		// (typically a void (call ...)).
		_, err := evalExpr(b, sc, e)
		return err
	}
}

func evalExpr(b *ir.Builder, sc *scope, e *expr) (ir.Reg, error) {
	if e.isAtom {
		if r, ok := sc.vars[e.atom]; ok {
			return r, nil
		}
		return ir.NullReg, errors.Errorf("irtext: undefined reference %q", e.atom)
	}
	head, rest, err := e.head()
	if err != nil {
		return ir.NullReg, err
	}
	switch head {
	case "const":
		if len(rest) != 2 {
			return ir.NullReg, errors.New("irtext: (const TYPE INT) malformed")
		}
		dt, err := parseType(rest[0])
		if err != nil {
			return ir.NullReg, err
		}
		if !rest[1].isAtom {
			return ir.NullReg, errors.New("irtext: const value must be an atom")
		}
		v, err := strconv.ParseInt(rest[1].atom, 0, 64)
		if err != nil {
			return ir.NullReg, errors.Wrapf(err, "irtext: const value %q", rest[1].atom)
		}
		return b.IntegerConst(dt, v), nil
	case "add", "sub", "mul":
		return evalBinArith(b, sc, head, rest)
	case "cmp.eq", "cmp.ne", "cmp.slt", "cmp.sle", "cmp.ult", "cmp.ule":
		return evalCmp(b, sc, head, rest)
	case "call":
		if len(rest) < 2 || !rest[1].isAtom {
			return ir.NullReg, errors.New("irtext: (call TYPE NAME ARG...) malformed")
		}
		dt, err := parseType(rest[0])
		if err != nil {
			return ir.NullReg, err
		}
		args, err := evalExprList(b, sc, rest[2:])
		if err != nil {
			return ir.NullReg, err
		}
		return b.Call(dt, rest[1].atom, args), nil
	case "global-address":
		if len(rest) != 1 || !rest[0].isAtom {
			return ir.NullReg, errors.New("irtext: (global-address NAME) malformed")
		}
		return b.GlobalAddress(rest[0].atom), nil
	case "extern-address":
		if len(rest) != 1 || !rest[0].isAtom {
			return ir.NullReg, errors.New("irtext: (extern-address NAME) malformed")
		}
		return b.ExternAddress(rest[0].atom), nil
	case "func-address":
		if len(rest) != 1 || !rest[0].isAtom {
			return ir.NullReg, errors.New("irtext: (func-address NAME) malformed")
		}
		return b.FuncAddress(rest[0].atom), nil
	case "load":
		if len(rest) != 2 {
			return ir.NullReg, errors.New("irtext: (load TYPE ADDR) malformed")
		}
		dt, err := parseType(rest[0])
		if err != nil {
			return ir.NullReg, err
		}
		addr, err := evalExpr(b, sc, rest[1])
		if err != nil {
			return ir.NullReg, err
		}
		return b.Load(dt, addr, false), nil
	case "local":
		if len(rest) != 3 {
			return ir.NullReg, errors.New("irtext: (local TYPE SIZE ALIGN) malformed")
		}
		dt, err := parseType(rest[0])
		if err != nil {
			return ir.NullReg, err
		}
		size, err := atomInt(rest[1])
		if err != nil {
			return ir.NullReg, err
		}
		align, err := atomInt(rest[2])
		if err != nil {
			return ir.NullReg, err
		}
		_ = dt
		return b.Local(ir.PointerType(), int(size), int(align)), nil
	default:
		return ir.NullReg, errors.Errorf("irtext: unknown expression form %q", head)
	}
}

func evalExprList(b *ir.Builder, sc *scope, es []*expr) ([]ir.Reg, error) {
	regs := make([]ir.Reg, 0, len(es))
	for _, e := range es {
		r, err := evalExpr(b, sc, e)
		if err != nil {
			return nil, err
		}
		regs = append(regs, r)
	}
	return regs, nil
}

func evalBinArith(b *ir.Builder, sc *scope, op string, rest []*expr) (ir.Reg, error) {
	if len(rest) != 3 {
		return ir.NullReg, errors.Errorf("irtext: (%s TYPE A B) malformed", op)
	}
	dt, err := parseType(rest[0])
	if err != nil {
		return ir.NullReg, err
	}
	a, err := evalExpr(b, sc, rest[1])
	if err != nil {
		return ir.NullReg, err
	}
	x, err := evalExpr(b, sc, rest[2])
	if err != nil {
		return ir.NullReg, err
	}
	switch op {
	case "add":
		return b.Add(dt, a, x, ir.WrapNone), nil
	case "sub":
		return b.Sub(dt, a, x, ir.WrapNone), nil
	default:
		return b.Mul(dt, a, x, ir.WrapNone), nil
	}
}

func evalCmp(b *ir.Builder, sc *scope, op string, rest []*expr) (ir.Reg, error) {
	if len(rest) != 2 {
		return ir.NullReg, errors.Errorf("irtext: (%s A B) malformed", op)
	}
	a, err := evalExpr(b, sc, rest[0])
	if err != nil {
		return ir.NullReg, err
	}
	x, err := evalExpr(b, sc, rest[1])
	if err != nil {
		return ir.NullReg, err
	}
	switch op {
	case "cmp.eq":
		return b.CmpEq(a, x), nil
	case "cmp.ne":
		return b.CmpNe(a, x), nil
	case "cmp.slt":
		return b.CmpSlt(a, x), nil
	case "cmp.sle":
		return b.CmpSle(a, x), nil
	case "cmp.ult":
		return b.CmpUlt(a, x), nil
	default:
		return b.CmpUle(a, x), nil
	}
}

func atomInt(e *expr) (int64, error) {
	if !e.isAtom {
		return 0, errors.New("irtext: expected an integer atom")
	}
	return strconv.ParseInt(e.atom, 0, 64)
}
