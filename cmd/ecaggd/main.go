package main

import (
	"os"

	"github.com/Anthya1104/ec-aggregate/internal/cli"
	"github.com/Anthya1104/ec-aggregate/internal/config"
	"github.com/Anthya1104/ec-aggregate/internal/logger"
	"github.com/sirupsen/logrus"
)

func main() {

	if err := logger.InitLogger(config.LogLevelInfo); err != nil {
		logrus.Fatalf("Error initializing Logger : %v", err)
	}

	if err := cli.ExecuteCmd(); err != nil {
		logrus.Fatalf("Error executing command: %v", err)
		os.Exit(1)
	}

}
