// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

import "strconv"

// intToString and doubleToString render numbers the way Lua's string
// coercion does for concatenation and tostring() (§4.6 concat coercion):
// integral doubles print without a decimal point.
func intToString(i int64) string {
	return strconv.FormatInt(i, 10)
}

func doubleToString(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', 14, 64)
}
