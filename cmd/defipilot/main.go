package main

import (
	"os"

	"github.com/defipilot/defipilot/internal/app"
)

func main() {
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
