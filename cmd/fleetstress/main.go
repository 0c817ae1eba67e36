package main

import (
	"fmt"
	"os"

	"github.com/fleetstress/fleetstress/cmd/fleetstress/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
