package main

import "github.com/vmti/cmd/vmti/cmd"

func main() {
	cmd.Execute()
}
