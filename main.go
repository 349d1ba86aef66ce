package main

import "github.com/nmoreira/weatheredge/cmd"

func main() {
	cmd.Execute()
}
