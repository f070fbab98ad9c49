package main

import "github.com/tuff-dev/tuff-sandbox/cmd/tuff-sandbox/cmd"

func main() {
	cmd.Execute()
}
