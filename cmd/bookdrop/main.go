package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"bookdrop/internal/api"
	"bookdrop/internal/services"
)

// Exit codes scripts can branch on.
const (
	exitFailure     = 1
	exitUsage       = 2
	exitUnreachable = 3
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, api.ErrUnreachable):
		return exitUnreachable
	case errors.Is(err, services.ErrConfiguration), errors.Is(err, services.ErrValidation):
		return exitUsage
	default:
		return exitFailure
	}
}
