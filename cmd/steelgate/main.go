package main

import "github.com/emfabro/steelgate/cmd/steelgate/cmd"

func main() {
	cmd.Execute()
}
