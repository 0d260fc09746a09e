// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

//go:build gofuzz

package loader

import (
	"go.uber.org/zap"

	"github.com/toylang/toyvm"
)

// Fuzz is the entry point github.com/dvyukov/go-fuzz's go-fuzz-build tool
// instruments and drives: it feeds arbitrary byte slices from the corpus
// directly at Load, the only boundary in this module that parses untrusted
// input (§6 chunks may arrive over the wire from an untrusted compiler
// output). A fresh Vm per call keeps one malformed chunk from corrupting
// the state a later call in the same corpus run depends on.
//
// Build with: go-fuzz-build ./loader && go-fuzz -bin=loader-fuzz.zip
func Fuzz(data []byte) int {
	vm, err := toyvm.New(toyvm.DefaultConfig(), zap.NewNop())
	if err != nil {
		return 0
	}
	defer vm.Close()

	ucb, err := Load(vm, data)
	if err != nil {
		return 0
	}
	if ucb == nil || len(ucb.Bytecode) == 0 {
		return 0
	}
	return 1
}
