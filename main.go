package main

import "github.com/oar-cd/bubble/cmd/root"

func main() {
	root.Execute()
}
