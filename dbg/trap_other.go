//go:build !unix

package dbg

import "runtime"

func raiseTrap() {
	runtime.Breakpoint()
}
