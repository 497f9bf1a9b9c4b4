package main

import (
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/cli"
)

func main() {
	cli.Execute()
}
