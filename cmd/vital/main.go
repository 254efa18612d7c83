package main

import (
	"os"

	"vital-image-analytics/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
