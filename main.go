package main

import (
	"manifest/cmd"
	"manifest/internal/logger"
)

func main() {
	logger.Init()
	cmd.Execute()
}
