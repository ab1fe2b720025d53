package main

import (
	"io"
	"log"
	"os"

	"github.com/jaffee/commandeer/pflag"

	"github.com/appsinstalled/memcload"
	"github.com/appsinstalled/memcload/appsinstalled"
	"github.com/appsinstalled/memcload/logger"
)

func main() {
	m := memcload.NewMain()
	if err := pflag.LoadEnv(m, "MEMCLOAD_", nil); err != nil {
		log.Fatal(err)
	}

	if m.Test {
		if err := appsinstalled.SelfTest(); err != nil {
			logger.StderrLogger.Errorf("codec self-test failed: %v", err)
			os.Exit(1)
		}
		logger.StderrLogger.Infof("codec self-test ok")
		return
	}

	var logDest io.Writer = os.Stderr
	if m.Log != "" {
		f, err := logger.NewFileWriter(m.Log)
		if err != nil {
			log.Fatalf("opening log file: %v", err)
		}
		defer f.Close()
		logDest = f
	}
	if m.Dry {
		m.SetLogger(logger.NewVerboseLogger(logDest))
	} else {
		m.SetLogger(logger.NewStandardLogger(logDest))
	}

	m.Logger().Infof("memc loader started with options: %+v", m)
	if err := m.Run(); err != nil {
		m.Logger().Errorf("unexpected error: %v", err)
		os.Exit(1)
	}
}
