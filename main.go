package main

import (
	"os"

	"github.com/maxkimambo/bqflow/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
