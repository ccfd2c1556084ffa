package main

import "github.com/jmcleod/hubpki/cmd/hubpki/cmd"

func main() {
	cmd.Execute()
}
