package main

import "github.com/execguard/execguard/cmd/execguard/cmd"

func main() {
	cmd.Execute()
}
