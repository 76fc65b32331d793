package main

import (
	"flag"

	"github.com/omzlo/clog"
	"github.com/ovdx/candiag/cmd/config"
	"github.com/ovdx/candiag/controllers"
	"github.com/ovdx/candiag/models/can"
)

var (
	optConfig   string
	optLogLevel int
	optLogFile  string
	optEmulated bool
	optTest     bool
)

func init() {
	flag.StringVar(&optConfig, "config", "", "Configuration file (default: ~/.candiag.conf)")
	flag.IntVar(&optLogLevel, "log-level", -1, "Log level (0=all, 1=debug and more, 2=info and more, 3=warnings and errors, 4=errors only, 5=nothing)")
	flag.StringVar(&optLogFile, "log-file", "", "Log file location")
	flag.BoolVar(&optEmulated, "emulated", false, "Emulate diagnostic responses instead of using real buses")
	flag.BoolVar(&optTest, "test", false, "Halt after initialization, without launching the server")
}

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}

	flag.Parse()

	if optLogLevel >= 0 {
		config.Settings.LogLevel = optLogLevel
	}
	if optLogFile != "" {
		config.Settings.LogFile = optLogFile
	}
	if optEmulated {
		config.Settings.EmulatedData = true
	}

	if w := clog.NewFileLogWriter(config.Settings.LogFile); w != nil {
		clog.AddWriter(w)
	}
	clog.SetLogLevel(clog.LogLevel(config.Settings.LogLevel))

	service := controllers.NewService()
	service.Manager.EmulatedData = config.Settings.EmulatedData
	service.Manager.MultiframeStreaming = config.Settings.MultiframeStreaming

	var buses []*can.Bus
	for _, busConfig := range config.Settings.Buses {
		bus := can.NewBus(busConfig.Address, busConfig.Interface, busConfig.RawWritable)
		if config.Settings.EmulatedData || optTest {
			can.NewLoopbackDriver(bus)
		} else {
			if err := can.OpenSocketcan(bus); err != nil {
				clog.Error("Could not open %s: %s", bus, err)
				panic(err)
			}
		}
		buses = append(buses, bus)
		clog.Info("Configured %s", bus)
	}

	service.Manager.Initialize(buses, config.Settings.Obd2Bus)

	if !optTest {
		go service.Runner.Serve()

		clog.Error("Server failed: %s",
			service.Server.ListenAndServe(config.Settings.Bind, config.Settings.AuthToken))
	} else {
		clog.Info("Done.")
	}
}
