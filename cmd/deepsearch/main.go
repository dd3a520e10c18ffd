package main

import (
	"os"

	"deepsearch-be/cmd/deepsearch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
