package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/hitoshi/bakeman/internal/app"
)

func main() {
	// .envファイルがあれば読み込む（本番環境にはないので失敗は無視）
	_ = godotenv.Load()

	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "bakeman: %v\n", err)
		os.Exit(1)
	}
}
