// Package main provides the entry point for the urlindex CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Aman-CERP/urlindex/cmd/urlindex/cmd"
	uierrors "github.com/Aman-CERP/urlindex/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, cmd.ErrReported) {
			_, _ = fmt.Fprint(os.Stderr, uierrors.FormatForCLI(err))
		}
		os.Exit(1)
	}
}
