package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, rcaerr.ErrConfig) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
