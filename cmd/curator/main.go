package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"curator/internal/services"
)

// Exit codes let wrapper scripts tell a bad config from a failed run.
const (
	exitFailure       = 1
	exitConfiguration = 2
	exitFatalInfra    = 3
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "curator:", err)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, services.ErrConfiguration):
		return exitConfiguration
	case services.IsFatal(err):
		return exitFatalInfra
	default:
		return exitFailure
	}
}
