package main

import (
	"github.com/vfslab/volfs/cmd"
)

func main() {
	cmd.Execute()
}
