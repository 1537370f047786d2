package main

import (
	"github.com/clipforge/capture/cmd/clipforge/commands"
)

func main() {
	commands.Execute()
}
