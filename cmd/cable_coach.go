// cable-coach is a terminal companion for a two-cable resistance trainer:
// pick a routine (or just lift), and it configures the machine set by set,
// counts reps, auto-stops stalled sets, and keeps history in sqlite.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
	"tinygo.org/x/bluetooth"

	"github.com/openlift/cable-coach/internal/ble"
	"github.com/openlift/cable-coach/internal/config"
	"github.com/openlift/cable-coach/internal/machine"
	"github.com/openlift/cable-coach/internal/prefs"
	"github.com/openlift/cable-coach/internal/routine"
	"github.com/openlift/cable-coach/internal/session"
	"github.com/openlift/cable-coach/internal/store"
	"github.com/openlift/cable-coach/internal/ui"
)

const scanTimeout = 60 * time.Second

// chanWriter tees log lines into the model's scrolling log. Sends never
// block; a busy UI loses lines rather than stalling the logger.
type chanWriter struct {
	ch chan<- string
}

func (w *chanWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		select {
		case w.ch <- line:
		default:
		}
	}
	return len(p), nil
}

func main() {
	configFlag := pflag.String("config", "", "path to config file")
	pflag.String("link-mode", "", "machine link: ble or sim")
	pflag.String("device", "", "BLE name prefix to scan for")
	pflag.String("address", "", "BLE address to connect to")
	pflag.Int("sim-port", 0, "simulator control panel port, 0 disables")
	pflag.String("db", "", "history database path")
	pflag.String("routines", "", "extra routines file (yaml)")
	pflag.String("log-file", "", "log file path")
	pflag.Parse()

	must("load config", config.Init(*configFlag))
	bindFlags()
	cfg, err := config.Load()
	must("load config", err)

	rotating := &lumberjack.Logger{
		Filename:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
	}
	uiLogChan := make(chan string, 256)
	logger := log.New(io.MultiWriter(rotating, &chanWriter{ch: uiLogChan}), "", log.LstdFlags)
	logger.Printf("cable-coach: starting, link mode %s", cfg.Link.Mode)

	model := session.NewModel(logger, uiLogChan)
	prefsMgr := prefs.NewManager(cfg.Storage.PrefsPath, logger)

	history, err := store.Open(cfg.Storage.DatabasePath, logger)
	must("open history", err)

	routines := routine.Builtins()
	if cfg.Routine.FilePath != "" {
		extra, err := routine.LoadFile(cfg.Routine.FilePath)
		must("load routines file", err)
		routines = append(routines, extra)
	}

	device, closeLink := connectMachine(cfg, model, logger)

	engine := session.NewEngine(model, device, history, prefsMgr, session.Config{
		CountdownSeconds: cfg.Session.CountdownSeconds,
		SettleDelay:      cfg.Session.SettleDelay(),
	}, logger)

	ctrl := ui.NewController(engine, model, prefsMgr, routines, logger)
	view := ui.NewView(model, ctrl, prefsMgr, logger)

	runErr := view.Run()

	view.Shutdown()
	engine.Shutdown()
	closeLink()
	if err := history.Close(); err != nil {
		logger.Printf("cable-coach: closing history: %v", err)
	}
	model.Shutdown()
	logger.Println("cable-coach: goodbye")

	must("run UI", runErr)
}

// bindFlags lets command-line flags override every other config source.
func bindFlags() {
	flags := pflag.CommandLine
	bind := func(key, flag string) {
		must("bind flag "+flag, viper.BindPFlag(key, flags.Lookup(flag)))
	}
	bind("link.mode", "link-mode")
	bind("link.name_prefix", "device")
	bind("link.address", "address")
	bind("link.sim_port", "sim-port")
	bind("storage.database_path", "db")
	bind("routine.file_path", "routines")
	bind("logging.file_path", "log-file")
}

// connectMachine brings up the configured link and returns the device plus
// a teardown function for the transport underneath it.
func connectMachine(cfg *config.Config, model *session.Model, logger *log.Logger) (session.Device, func()) {
	switch cfg.Link.Mode {
	case config.LinkModeSim:
		sim := machine.NewSim(logger, machine.SimConfig{
			Address:   "F4:17:00:00:00:01",
			LocalName: "Vee Sim",
			PanelPort: cfg.Link.SimPort,
		})
		must("start simulator", sim.Start())
		sim.SetConnected(true)

		link := machine.NewLink(sim, logger)
		must("attach link", link.Attach())
		model.SetConnection(session.ConnectionState{
			LinkName:  sim.GetLocalName(),
			Address:   sim.GetAddressString(),
			Connected: true,
		})
		return link, func() {
			link.Shutdown()
			sim.Shutdown()
		}

	case config.LinkModeBLE:
		manager := ble.NewManager(bluetooth.DefaultAdapter, logger)
		must("enable BLE stack", manager.Enable())

		ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
		defer cancel()
		peripheral, err := manager.FindTrainer(ctx, ble.Filter{
			Address:    cfg.Link.Address,
			NamePrefix: cfg.Link.NamePrefix,
		})
		must("find trainer", err)

		link := machine.NewLink(peripheral, logger)
		must("attach link", link.Attach())
		model.SetConnection(session.ConnectionState{
			LinkName:  peripheral.GetLocalName(),
			Address:   peripheral.GetAddressString(),
			Connected: peripheral.IsConnected(),
		})
		return link, func() {
			link.Shutdown()
			manager.Shutdown()
		}

	default:
		panic(fmt.Sprintf("unknown link mode %q", cfg.Link.Mode))
	}
}

func must(action string, err error) {
	if err != nil {
		panic("failed to " + action + ": " + err.Error())
	}
}
