package main

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/XANi/go-yamlcfg"
	"github.com/XANi/goneric"
	"github.com/efigence/go-mon"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/XANi/espbridge/config"
	"github.com/XANi/espbridge/device"
	"github.com/XANi/espbridge/discovery"
	"github.com/XANi/espbridge/store"
	"github.com/XANi/espbridge/transport/espmqtt"
	"github.com/XANi/espbridge/web"
)

var version string
var log *zap.SugaredLogger
var debug = true
var exit = make(chan error, 1)

func init() {
	consoleEncoderConfig := zap.NewDevelopmentEncoderConfig()
	// naive systemd detection. Drop timestamp if running under it
	if os.Getenv("JOURNAL_STREAM") != "" {
		consoleEncoderConfig.TimeKey = ""
	}
	consoleEncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(consoleEncoderConfig)
	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})
	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return (lvl < zapcore.ErrorLevel) != (lvl == zapcore.DebugLevel && !debug)
	})
	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder, os.Stderr, lowPriority),
		zapcore.NewCore(consoleEncoder, os.Stderr, highPriority),
	)
	logger := zap.New(core)
	if debug {
		logger = logger.WithOptions(
			zap.Development(),
			zap.AddCaller(),
			zap.AddStacktrace(highPriority),
		)
	} else {
		logger = logger.WithOptions(
			zap.AddCaller(),
		)
	}
	log = logger.Sugar()
}

func main() {
	defer log.Sync()
	// register internal stats
	mon.RegisterGcStats()
	app := &cli.Command{
		Name:        "espbridge",
		Description: "Bridge ESPHome devices into a home automation capability model",
		Version:     version,
		HideHelp:    true,
	}
	log.Infof("Starting %s version: %s", app.Name, version)
	app.Flags = []cli.Flag{
		&cli.BoolFlag{Name: "help", Aliases: []string{"h"}, Usage: "show help"},
		&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "enable debug logs"},
		&cli.StringFlag{Name: "config", Aliases: []string{"c"},
			Usage: "config file. Will be created if it does not exist",
		},
		&cli.StringFlag{
			Name:  "listen-addr",
			Usage: "diagnostics API listen addr",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("LISTEN_ADDR"),
			),
		},
		&cli.StringFlag{
			Name:     "mqtt-addr",
			Usage:    "mqtt broker address",
			Required: true,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("MQTT_ADDR"),
			),
		},
		&cli.StringFlag{
			Name:  "topic-prefix",
			Value: "esphome",
			Usage: "mqtt topic prefix the devices publish under",
		},
		&cli.StringFlag{
			Name:  "store-dsn",
			Value: "espbridge.db",
			Usage: "state store DSN, sqlite path or postgres:// URL",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("STORE_DSN"),
			),
		},
		&cli.StringFlag{
			Name:  "node-name",
			Value: goneric.Must(os.Hostname()),
			Usage: "name this bridge reports about itself",
		},
		&cli.StringFlag{
			Name:  "pprof-addr",
			Value: "",
			Usage: "address to run pprof on, disabled by default",
		},
	}
	app.Action = func(ctx context.Context, c *cli.Command) error {
		if c.Bool("help") {
			cli.ShowAppHelp(c)
			os.Exit(1)
		}
		cfg := config.Config{
			MQTTAddress:   c.String("mqtt-addr"),
			ListenAddress: c.String("listen-addr"),
			TopicPrefix:   c.String("topic-prefix"),
			StoreDSN:      c.String("store-dsn"),
			Debug:         c.Bool("debug"),
			PProfAddress:  c.String("pprof-addr"),
		}
		if c.String("config") != "" {
			err := yamlcfg.LoadConfig([]string{c.String("config")}, &cfg)
			if err != nil {
				log.Fatal(err)
			}
		}
		debug = cfg.Debug
		log.Debug("debug enabled")
		if len(cfg.Devices) == 0 {
			log.Panic("no devices configured, add at least one under devices: in the config file")
		}

		st, err := store.Open(cfg.StoreDSN, log.Named("store"))
		if err != nil {
			log.Panicf("error opening state store: %s", err)
		}
		transport, err := espmqtt.New(espmqtt.Config{
			BrokerAddr:  cfg.MQTTAddress,
			TopicPrefix: cfg.TopicPrefix,
			Logger:      log.Named("mq"),
		})
		if err != nil {
			log.Panicf("error setting up transport: %s", err)
		}

		devices := make([]*device.Device, 0, len(cfg.Devices))
		for _, dc := range cfg.Devices {
			d, err := device.New(device.Config{
				ID:            dc.ID,
				Name:          dc.Name,
				Address:       dc.Address,
				EncryptionKey: dc.EncryptionKey,
				Transport:     transport,
				Host:          st.ForDevice(dc.ID),
				Logger:        log.Named("device"),
			})
			if err != nil {
				log.Panicf("error setting up device %s: %s", dc.ID, err)
			}
			devices = append(devices, d)
		}

		disco, err := discovery.New(discovery.Config{
			MQTTAddr: cfg.MQTTAddress,
			Logger:   log.Named("discovery"),
		})
		if err != nil {
			log.Panicf("error starting discovery listener: %s", err)
		}
		disco.OnRecord(func(rec discovery.Record) {
			devRec := device.DiscoveryRecord{
				ID:      rec.ID,
				Address: rec.Address,
				Host:    rec.Host,
				TXT: device.DiscoveryTXT{
					Version:        rec.TXT.Version,
					ProjectVersion: rec.TXT.ProjectVersion,
				},
			}
			for _, d := range devices {
				d.HandleDiscovery(devRec)
			}
		})

		for _, d := range devices {
			go func(d *device.Device) {
				if err := d.Connect(ctx); err != nil {
					log.Errorf("initial connect to %s failed: %s", d.ID(), err)
				}
			}(d)
		}

		if len(cfg.PProfAddress) > 0 {
			log.Infof("listening pprof on %s", cfg.PProfAddress)
			go func() {
				log.Errorf("failed to start debug listener: %s (ignoring)", http.ListenAndServe(cfg.PProfAddress, nil))
			}()
		}
		if len(cfg.ListenAddress) > 0 {
			w, err := web.New(web.Config{
				Logger:     log.Named("web"),
				ListenAddr: cfg.ListenAddress,
				NodeName:   c.String("node-name"),
			}, devices, st)
			if err != nil {
				log.Panicf("error starting web listener: %s", err)
			}
			return w.Run()
		}
		return <-exit
	}
	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
