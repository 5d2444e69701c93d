package main

import (
	"os"

	"github.com/solatis/factkeeper/cmd/factkeeper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
