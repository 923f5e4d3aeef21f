package main

import "github.com/orderlanelabs/orderlane/internal/cli"

func main() {
	cli.Execute()
}
