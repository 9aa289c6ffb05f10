// Command spinstress runs the contention harness against a spin lock or one of
// the keyed lock backends and reports whether any update was lost.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
