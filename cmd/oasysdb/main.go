package main

import (
	"fmt"
	"os"

	"github.com/oasysai/oasysdb/cmd/oasysdb/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
