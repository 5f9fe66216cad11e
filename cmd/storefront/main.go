package main

import (
	"os"

	"github.com/Additional-Code/storefront/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
