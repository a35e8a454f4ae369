package main

import "github.com/mwaldrep/downlink/cmd"

func main() {
	cmd.Execute()
}
