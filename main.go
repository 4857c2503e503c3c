package main

import "github.com/endorses/tlsdissect/cmd"

func main() {
	cmd.Execute()
}
