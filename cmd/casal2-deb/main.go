package main

import "github.com/casal2/casal2-deb/cmd/casal2-deb/cmd"

func main() {
	cmd.Execute()
}
