package main

import (
	"os"
	"time"

	"github.com/kilianp07/ebusdepot/cmd"
	coremon "github.com/kilianp07/ebusdepot/core/monitoring"
	"github.com/kilianp07/ebusdepot/infra/logger"
)

func main() {
	defer coremon.Flush(2 * time.Second)
	defer coremon.Recover()
	if err := cmd.Execute(); err != nil {
		logger.New("main").Errorf("%v", err)
		coremon.Flush(2 * time.Second)
		os.Exit(1)
	}
}
