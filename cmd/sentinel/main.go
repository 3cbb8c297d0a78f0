package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/redis-ha/sentinel/internal/sentinel"
	"github.com/redis-ha/sentinel/internal/server"
)

func main() {
	configPath := flag.StringP("config", "c", "", "path to a sentinel config file")
	port := flag.Int("port", sentinel.DefaultListenPort, "port this supervisor listens on")
	masterName := flag.String("monitor-name", "", "name of a single master to monitor (bypasses --config)")
	masterHost := flag.String("monitor-host", "127.0.0.1", "host of the master named by --monitor-name")
	masterPort := flag.Int("monitor-port", 6379, "port of the master named by --monitor-name")
	quorum := flag.Int("quorum", 2, "quorum required to declare the master named by --monitor-name down")
	logLevel := flag.String("log-level", "info", "logrus level: trace, debug, info, warn, error")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(lvl)
	}
	entry := logrus.NewEntry(log)

	var monitors []sentinel.MonitorConfig
	listenPort := *port

	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			entry.WithError(err).Fatal("failed to open config file")
		}
		cfg, err := server.ParseConfig(f)
		f.Close()
		if err != nil {
			entry.WithError(err).Fatal("failed to parse config file")
		}
		monitors = cfg.Monitors()
		listenPort = cfg.Port
	} else if *masterName != "" {
		monitors = []sentinel.MonitorConfig{{
			Name:        *masterName,
			Host:        *masterHost,
			Port:        *masterPort,
			Quorum:      *quorum,
			CanFailover: true,
		}}
	} else {
		entry.Fatal("either --config or --monitor-name/--monitor-host/--monitor-port is required")
	}

	engine := sentinel.NewEngine(sentinel.WithLogger(entry), sentinel.WithSelfAddr(sentinel.Address{Host: "0.0.0.0", Port: listenPort}))

	for _, mon := range monitors {
		if _, err := engine.Monitor(mon); err != nil {
			entry.WithError(err).WithField("master", mon.Name).Fatal("failed to register monitored master")
		}
		entry.WithFields(logrus.Fields{"master": mon.Name, "addr": mon.Host, "port": mon.Port, "quorum": mon.Quorum}).Info("monitoring master")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go engine.Run()

	srv := server.NewServer(engine, "0.0.0.0", listenPort, entry)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		entry.Info("shutting down")
		cancel()
		srv.Shutdown()
		engine.Stop()
	}()

	if err := srv.Start(ctx); err != nil {
		entry.WithError(err).Fatal("sentinel server failed")
	}
}
