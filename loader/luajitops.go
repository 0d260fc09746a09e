// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package loader

// luaJitOpNames is the fixed set of LuaJIT-compatible opcode mnemonics the
// bytecode source loader recognizes (§6). Names not in this table fail to
// load with a structural error rather than being silently skipped.
var luaJitOpNames = map[string]bool{
	"ISLT": true, "ISGE": true, "ISLE": true, "ISGT": true,
	"ISEQV": true, "ISNEV": true, "ISEQS": true, "ISNES": true,
	"ISEQN": true, "ISNEN": true, "ISEQP": true, "ISNEP": true,
	"MOV": true,
	"ADDVN": true, "SUBVN": true, "MULVN": true, "DIVVN": true, "MODVN": true,
	"ADDNV": true, "SUBNV": true, "MULNV": true, "DIVNV": true, "MODNV": true,
	"ADDVV": true, "SUBVV": true, "MULVV": true, "DIVVV": true, "MODVV": true,
	"KSTR": true, "KSHORT": true, "KNUM": true, "KPRI": true,
	"UGET": true, "USETV": true, "USETS": true, "USETN": true, "USETP": true, "UCLO": true,
	"FNEW": true, "TNEW": true, "TDUP": true,
	"GGET": true, "GSET": true,
	"TGETV": true, "TGETS": true, "TGETB": true,
	"TSETV": true, "TSETS": true, "TSETB": true, "TSETM": true,
	"CALLM": true, "CALL": true, "RET": true, "RETM": true, "RET0": true, "RET1": true,
	"FORI": true, "FORL": true, "LOOP": true, "JMP": true,
	"ISNEXT": true, "ITERC": true, "ITERN": true, "ITERL": true,
}

// comparisonOps are always immediately followed by JMP in the source stream
// and get fused into a single compare-and-branch instruction at load time
// (§6): the JMP slot itself is then marked not-a-valid-jump-target.
var comparisonOps = map[string]bool{
	"ISLT": true, "ISGE": true, "ISLE": true, "ISGT": true,
	"ISEQV": true, "ISNEV": true, "ISEQS": true, "ISNES": true,
	"ISEQN": true, "ISNEN": true, "ISEQP": true, "ISNEP": true,
}

func isRecognizedOp(name string) bool { return luaJitOpNames[name] }
func isComparisonOp(name string) bool { return comparisonOps[name] }
