package main

import "roomrelay/cmd/relayctl/cmd"

func main() {
	cmd.Execute()
}
