package main

import "github.com/kozaktomas/memorybook/cmd"

func main() {
	cmd.Execute()
}
