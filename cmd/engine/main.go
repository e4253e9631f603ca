package main

import "github.com/rohitwanchoo/lsc-marketing-sub000/services/engine/cli"

func main() {
	cli.Execute()
}
