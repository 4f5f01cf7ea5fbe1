package main

import (
	"os"

	"github.com/animus-labs/dispatch-gateway/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
