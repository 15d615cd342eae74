package main

import (
	"crosswatch/internal/cli"
)

func main() {
	cli.Execute()
}
