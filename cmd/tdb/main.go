package main

import (
	"os"

	"github.com/andreyvit/tdb/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Stdin, os.Stdout, os.Stderr, os.Args))
}
