package main

import (
	"fmt"
	"os"

	"warimas-pos/internal/logger"
)

func main() {
	err := newRootCommand().Execute()
	logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
