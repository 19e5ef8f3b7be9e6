package main

import "github.com/fakeyudi/testwatch/cmd"

func main() {
	cmd.Execute()
}
