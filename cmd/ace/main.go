// Command ace synthesizes consensus verdicts from session analyzer outputs.
package main

import (
	"os"

	"github.com/Dicoangelo/meta-vengine-sub001/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
