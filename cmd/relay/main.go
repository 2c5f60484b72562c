package main

import "github.com/ramiqadoumi/go-task-reminder/services/relay/cli"

func main() {
	cli.Execute()
}
