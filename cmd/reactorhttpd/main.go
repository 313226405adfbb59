// Command reactorhttpd runs the reactor-based HTTP serving engine: a
// urfave/cli entry point over internal/config, internal/sqlpool,
// internal/logsink, internal/reactor, and an internal/metrics admin
// surface served by chi.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/theckman/yacspin"
	"github.com/urfave/cli"

	"github.com/yourusername/reactorhttpd/internal/config"
	"github.com/yourusername/reactorhttpd/internal/logsink"
	"github.com/yourusername/reactorhttpd/internal/metrics"
	"github.com/yourusername/reactorhttpd/internal/reactor"
	"github.com/yourusername/reactorhttpd/internal/sqlpool"
)

// Version is populated via -ldflags at release build time.
var Version = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "reactorhttpd"
	app.Usage = "single-host HTTP/1.1 serving engine"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: "reactorhttpd.yml",
			Usage: "path to the YAML configuration file",
		},
		cli.StringFlag{
			Name:  "admin-addr",
			Value: ":9090",
			Usage: "listen address for the /metrics and /healthz admin surface",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	var sink *logsink.Sink
	if cfg.OpenLog {
		sink, err = logsink.New(logsink.Options{
			Dir:       cfg.LogDir,
			Level:     logsink.Level(cfg.LogLevel),
			QueueSize: cfg.LogQueueSize,
		})
		if err != nil {
			return err
		}
		defer sink.Close()

		if w, err := config.WatchLogLevel(c.String("config"), sink); err == nil {
			defer w.Close()
		}
	}

	var sqlPool *sqlpool.Pool
	if cfg.SQLHost != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sqlPool, err = sqlpool.Open(ctx, sqlpool.Config{
			Driver: "mysql",
			Host:   cfg.SQLHost,
			Port:   cfg.SQLPort,
			User:   cfg.SQLUser,
			Pwd:    cfg.SQLPwd,
			DB:     cfg.SQLDB,
			Size:   cfg.ConnectPoolNum,
		})
		cancel()
		if err != nil {
			return fmt.Errorf("reactorhttpd: sql pool: %w", err)
		}
		defer sqlPool.ClosePool()
	}

	r, err := reactor.New(reactor.Config{
		Port:      cfg.Port,
		SrcDir:    cfg.SrcDir,
		TimeoutMS: cfg.TimeoutMS,
		ThreadNum: cfg.ThreadNum,
	}, sink)
	if err != nil {
		return err
	}

	collectorSrc := metrics.Sources{
		ActiveConnections: r.ActiveConnections,
		QueueDepth:        r.QueueDepth,
		TimerCount:        r.TimerCount,
	}
	if sqlPool != nil {
		collectorSrc.SQLFreeCount = sqlPool.FreeCount
	}
	if sink != nil {
		collectorSrc.LogQueueDepth = sink.QueueDepth
	}
	prometheus.MustRegister(metrics.NewCollector(collectorSrc))

	admin := chi.NewRouter()
	admin.Use(middleware.Logger)
	admin.Handle("/metrics", promhttp.Handler())
	admin.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	adminSrv := &http.Server{Addr: c.String("admin-addr"), Handler: admin}
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("reactorhttpd: admin server: %v", err)
		}
	}()

	printBanner(r.Addr(), c.String("admin-addr"))

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := r.Run(); err != nil {
			log.Printf("reactorhttpd: reactor stopped: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	r.Stop()
	<-runDone // Run's internal shutdown (pool drain, timer clear, conn close) finishes first
	r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return adminSrv.Shutdown(ctx)
}

func printBanner(addr, adminAddr string) {
	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[9],
		Suffix:          " starting reactorhttpd",
		SuffixAutoColon: true,
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
	}
	spinner, err := yacspin.New(cfg)
	if err != nil {
		color.Green("reactorhttpd listening on %s (admin on %s)", addr, adminAddr)
		return
	}
	spinner.Start()
	time.Sleep(300 * time.Millisecond)
	spinner.StopMessage(fmt.Sprintf("listening on %s (admin on %s)", addr, adminAddr))
	spinner.Stop()
}
