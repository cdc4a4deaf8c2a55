package main

import (
	"github.com/joho/godotenv"

	"transcript-rag/internal/cli"
)

func main() {
	_ = godotenv.Load()
	cli.Execute()
}
