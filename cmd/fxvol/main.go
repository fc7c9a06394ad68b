package main

import "fxvol/internal/cli"

func main() {
	cli.Execute()
}
