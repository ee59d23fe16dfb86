package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"taskd/internal/engine"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "taskd %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			engines := engine.KindEcho
			if engine.LlamaBuilt() {
				engines += ", " + engine.KindLlama
			}
			fmt.Fprintf(a.stdout, "engines: %s\n", engines)
		},
	}
}
