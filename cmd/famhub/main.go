package main

import (
	"os"

	"famhub/cmd/famhub/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:], os.Stdout, os.Stderr, nil))
}
