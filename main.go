package main

import "github.com/engagekit/campaign-engine/cmd"

func main() {
	cmd.Execute()
}
