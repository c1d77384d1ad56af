//go:build debug

package debug

import "fmt"

func ON() bool { return true }

func Assert(cond bool, args ...any) {
	if !cond {
		panic(fmt.Sprint("assertion failed: ", fmt.Sprint(args...)))
	}
}

func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic("assertion failed: " + err.Error())
	}
}

func AssertFunc(f func() bool, args ...any) {
	if !f() {
		panic(fmt.Sprint("assertion failed: ", fmt.Sprint(args...)))
	}
}
