/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/ptpdaemon/ptpd/config"
	"github.com/ptpdaemon/ptpd/metrics"
	"github.com/ptpdaemon/ptpd/ptp/clockdriver"
	"github.com/ptpdaemon/ptpd/ptp/datasets"
	"github.com/ptpdaemon/ptpd/ptp/engine"
	"github.com/ptpdaemon/ptpd/ptp/netmon"
	ptp "github.com/ptpdaemon/ptpd/ptp/protocol"
	"github.com/ptpdaemon/ptpd/ptp/transport"
)

// portAdapter makes an *engine.Port satisfy metrics.PortSource without
// engine needing to know anything about metrics - it just labels a
// port's data sets and counters with the interface name they belong
// to.
type portAdapter struct {
	name string
	port *engine.Port
}

func (a portAdapter) Name() string                { return a.name }
func (a portAdapter) DataSets() datasets.DataSets { return a.port.DS.Snapshot() }
func (a portAdapter) Counters() engine.Counters   { return a.port.Counters }

func main() {
	var configFile, pidFile, logLevel string
	var useSoftwareClock bool

	flag.StringVar(&configFile, "config", "/etc/ptpd/ptpd.yaml", "Path to the daemon YAML config")
	flag.StringVar(&pidFile, "pidfile", "/var/run/ptpd.pid", "Pid file location")
	flag.StringVar(&logLevel, "loglevel", "info", "Log level. Can be: debug, info, warning, error")
	flag.BoolVar(&useSoftwareClock, "free-running", false, "Use the free-running (non-adjusting) clock driver, for testing")
	flag.Parse()

	switch logLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("unrecognized log level: %v", logLevel)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal(err)
	}

	if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d\n", unix.Getpid())), 0644); err != nil {
		log.Warningf("could not write pidfile %s: %v", pidFile, err)
	}
	defer os.Remove(pidFile)

	clockID, err := daemonClockIdentity(cfg)
	if err != nil {
		log.Fatal(err)
	}

	registry := metrics.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)

	for i := range cfg.Ports {
		pc := cfg.Ports[i]
		ecfg := pc.EngineConfig(clockID, nil)

		xport, err := transport.New(pc.TransportConfig())
		if err != nil {
			log.Fatalf("port %s: opening transport: %v", pc.Interface, err)
		}

		var clock clockdriver.ClockDriver
		if useSoftwareClock {
			clock = &clockdriver.FreeRunningDriver{}
		} else {
			phc, err := clockdriver.NewPHCDriver(pc.Interface, false)
			if err != nil {
				log.Warningf("port %s: no PHC available, falling back to system clock: %v", pc.Interface, err)
				clock = clockdriver.NewSysDriver(false)
			} else {
				clock = phc
			}
		}

		port := engine.New(ecfg, clock, xport)
		registry.Register(portAdapter{name: pc.Interface, port: port})

		if watcher, err := netmon.NewWatcher(pc.Interface); err != nil {
			log.Warningf("port %s: link monitoring unavailable: %v", pc.Interface, err)
		} else {
			port.SetNetMonitor(watcher)
		}

		eg.Go(func() error {
			return port.Run(egCtx)
		})
	}

	if cfg.MetricsListenAddr != "" {
		eg.Go(func() error {
			return registry.Start(cfg.MetricsListenAddr)
		})
	}

	sigStop := make(chan os.Signal, 1)
	signal.Notify(sigStop, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	go func() {
		<-sigStop
		log.Warning("received shutdown signal, stopping all ports")
		cancel()
	}()

	if err := eg.Wait(); err != nil && egCtx.Err() == nil {
		log.Errorf("daemon exited with error: %v", err)
	}
}

// daemonClockIdentity resolves the clock identity to advertise: the
// configured value if set, otherwise derived from the first port's
// interface MAC address per IEEE 1588-2008's default EUI-64 mapping.
func daemonClockIdentity(cfg *config.Config) (ptp.ClockIdentity, error) {
	if cfg.ClockIdentity != "" {
		var raw uint64
		if _, err := fmt.Sscanf(cfg.ClockIdentity, "%x", &raw); err != nil {
			return 0, fmt.Errorf("parsing clock_identity: %w", err)
		}
		return ptp.ClockIdentity(raw), nil
	}
	if len(cfg.Ports) == 0 {
		return 0, fmt.Errorf("no ports configured")
	}
	iface, err := net.InterfaceByName(cfg.Ports[0].Interface)
	if err != nil {
		return 0, fmt.Errorf("resolving clock identity from %s: %w", cfg.Ports[0].Interface, err)
	}
	return ptp.NewClockIdentity(iface.HardwareAddr)
}
