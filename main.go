package main

import (
	"github.com/xkilldash9x/freeform/cmd"
)

func main() {
	cmd.Execute()
}
