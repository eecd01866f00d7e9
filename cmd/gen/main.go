package main

import (
	"Outcall/internal/repository"
	"Outcall/pkg/logger"
)

func main() {
	logger.Init()
	defer logger.Sync()

	repository.RunGenerate()
}
