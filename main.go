package main

import "github.com/lanki/edge/cmd"

func main() {
	cmd.Execute()
}
