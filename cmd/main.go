package main

import (
	"github.com/avaudit/clamaudit/cmd/cli"
)

func main() {
	cli.Main()
}
