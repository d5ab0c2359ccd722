package main

import (
	"os"

	"nativemsg/cmd/nativemsg/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
