// Package common holds small utilities shared across the storage and
// concurrency packages that make up the engine core.
package common

import "fmt"

func PanicIfErr(err error) {
	if err != nil {
		panic(err)
	}
}

// Assertf panics with a formatted message if cond is false. Used to guard
// structural invariants (such as a B+ tree's minimum node capacity) that
// must never be violated by a correct caller.
func Assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
