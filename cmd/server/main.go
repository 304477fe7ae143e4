package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/chatdrop/internal/history"
	"github.com/Tyrowin/chatdrop/internal/tracing"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	tracing.Version = version

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, history.ErrCorruptHistory) {
			logrus.WithError(err).Fatal("Refusing to start with a corrupt chat history")
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
