// cmd/reflweb/main.go
//
// Entry point for the reflweb CLI. Every command runs against the project in
// the working directory (or --project) and its .reflweb/ folder.

package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
