package main

import "github.com/mailplane/mailplane/cmd"

func main() {
	cmd.Execute()
}
