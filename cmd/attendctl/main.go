package main

import (
	"fmt"
	"os"

	"github.com/Shauryam-singh/Advance-Attendance/internal/cli"
	"github.com/Shauryam-singh/Advance-Attendance/internal/config"
)

func main() {
	cmd := cli.NewRootCommand(config.Load())
	cmd.SilenceErrors = true
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
