package main

import "github.com/rudransh-shrivastava/peer-mesh/internal/cli"

func main() {
	cli.Execute()
}
