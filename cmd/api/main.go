package main

import "github.com/ramiqadoumi/go-task-reminder/services/api/cli"

func main() {
	cli.Execute()
}
