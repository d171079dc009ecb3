package main

import (
	"os"

	"github.com/tomarrohitt/e-commerce-sub000/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Logger().Sync()
		os.Exit(1)
	}
}
