package main

import "github.com/opas-200/opas-build/cmd/opas-build/cmd"

func main() {
	cmd.Execute()
}
