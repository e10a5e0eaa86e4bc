package main

import (
	"os"

	"github.com/bnema/chatshell/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
