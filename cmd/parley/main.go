package main

import (
	"fmt"
	"os"

	"parley/cmd/internal/app"
)

func main() {
	// app.Run logs failures through the structured logger; the stderr line is
	// for whoever started the process without log shipping.
	if err := app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "parley:", err)
		os.Exit(1)
	}
}
