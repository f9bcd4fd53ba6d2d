package main

import (
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; the environment and tendril.yaml still apply.
	_ = godotenv.Load()
	Execute()
}
