package main

import (
	"fmt"
	"log"
	"regexp"
	"runtime"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/mdouchement/fileshare/internal/chunk"
	"github.com/mdouchement/fileshare/internal/config"
	"github.com/mdouchement/fileshare/internal/database"
	"github.com/mdouchement/fileshare/internal/integrity"
	"github.com/mdouchement/fileshare/internal/scheduler"
	"github.com/mdouchement/fileshare/internal/shortlink"
	"github.com/mdouchement/fileshare/internal/storage"
	"github.com/mdouchement/fileshare/internal/webserver"
	"github.com/mdouchement/fileshare/internal/webserver/service"
	"github.com/mdouchement/logger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	version  = "dev"
	revision = "none"
	date     = "unknown"

	cfgfile      string
	binding      string
	port         string
	dumpRequests bool
)

func main() {
	c := &cobra.Command{
		Use:     "fileshare",
		Short:   "Self-hosted file sharing server",
		Version: fmt.Sprintf("%s - build %.7s @ %s - %s", version, revision, date, runtime.Version()),
		Args:    cobra.ExactArgs(0),
	}
	c.PersistentFlags().StringVarP(&cfgfile, "config", "c", "", "Configuration file (TOML or YAML)")

	c.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Version for fileshare",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(c.Version)
		},
	})
	c.AddCommand(initCmd)
	c.AddCommand(reindexCmd)
	c.AddCommand(verifyCmd)
	c.AddCommand(rehashCmd)
	c.AddCommand(sweepCmd)
	c.AddCommand(configCmd)

	serverCmd.Flags().StringVarP(&binding, "binding", "b", "", "Server's binding")
	serverCmd.Flags().StringVarP(&port, "port", "p", "", "Server's port")
	serverCmd.Flags().BoolVarP(&dumpRequests, "dump-requests", "", false, "Log requests headers")
	c.AddCommand(serverCmd)

	if err := c.Execute(); err != nil {
		log.Fatalf("%+v", err)
	}
}

var (
	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Init the database",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgfile)
			if err != nil {
				return err
			}
			return database.StormInit(cfg.DatabasePath)
		},
	}

	//

	reindexCmd = &cobra.Command{
		Use:   "reindex",
		Short: "Reindex the database",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgfile)
			if err != nil {
				return err
			}
			return database.StormReIndex(cfg.DatabasePath)
		},
	}

	//

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgfile)
			if err != nil {
				return err
			}

			payload, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Print(payload)
			return nil
		},
	}

	//

	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Verify the integrity of all stored files",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgfile)
			if err != nil {
				return err
			}

			return offline(cfg, func(log logger.Logger, db database.Client, store storage.Store) error {
				files, err := db.AllFiles()
				if err != nil {
					return err
				}

				report := service.NewVerifier(log, store).VerifyAll(files)

				var size uint64
				for _, file := range files {
					size += uint64(file.Size)
				}
				fmt.Printf("Checked %d file(s), %s\n", report.Total(), humanize.IBytes(size))

				statuses := make([]string, 0, len(report))
				for status := range report {
					statuses = append(statuses, string(status))
				}
				sort.Strings(statuses)
				for _, status := range statuses {
					fmt.Printf("%12s: %d\n", status, report[integrity.Status(status)])
				}

				if report[integrity.StatusCorrupted] > 0 {
					return errors.Errorf("%d corrupted file(s)", report[integrity.StatusCorrupted])
				}
				return nil
			})
		},
	}

	//

	rehashCmd = &cobra.Command{
		Use:   "rehash",
		Short: "Recompute the digests of all stored files",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgfile)
			if err != nil {
				return err
			}

			return offline(cfg, func(log logger.Logger, db database.Client, store storage.Store) error {
				files, err := db.AllFiles()
				if err != nil {
					return err
				}

				n := service.NewRehasher(log, db, store).RehashAll(files)
				fmt.Printf("Rehashed %d/%d file(s)\n", n, len(files))
				return nil
			})
		},
	}

	//

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Remove abandoned chunked uploads and storage artifacts",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgfile)
			if err != nil {
				return err
			}

			scheduler.Sweep(scheduler.Controller{
				Logger:     newLogger(),
				Assembler:  chunk.New(cfg.ScratchPath, cfg.MaxUploadSize, cfg.MaxChunks),
				Storage:    storage.NewFileSystem(cfg.StoragePath),
				SessionTTL: cfg.SessionTTL.Duration,
			})
			return nil
		},
	}

	//

	serverCmd = &cobra.Command{
		Use:   "server",
		Short: "Start server",
		Args:  cobra.ExactArgs(0),
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgfile)
			if err != nil {
				return err
			}
			if binding != "" {
				cfg.Binding = binding
			}
			if port != "" {
				cfg.Port = port
			}

			ctrl := webserver.Controller{
				Version:      c.Parent().Version,
				Config:       cfg,
				DumpRequests: dumpRequests,
			}

			//

			ctrl.Logger = newLogger()

			//

			db, err := database.StormOpen(cfg.DatabasePath)
			if err != nil {
				return errors.Wrap(err, "could not open database")
			}
			defer db.Close()
			ctrl.Database = db

			//

			ctrl.Storage = storage.NewFileSystem(cfg.StoragePath)
			ctrl.Assembler = chunk.New(cfg.ScratchPath, cfg.MaxUploadSize, cfg.MaxChunks)
			ctrl.Resolver = shortlink.NewResolver(ctrl.Logger, db, shortlink.NewHTTPProber(cfg.ProbeTimeout.Duration))

			//

			cron, err := scheduler.Start(scheduler.Controller{
				Logger:        ctrl.Logger,
				Assembler:     ctrl.Assembler,
				Storage:       ctrl.Storage,
				SessionTTL:    cfg.SessionTTL.Duration,
				Specification: cfg.SweepSpec,
			})
			if err != nil {
				return err
			}
			defer cron.Stop()

			//

			engine := webserver.EchoEngine(ctrl)
			webserver.PrintRoutes(engine)

			ctrl.Logger.Infof("Server listening on %s (max upload %s)", cfg.Listen(), humanize.IBytes(uint64(cfg.MaxUploadSize)))
			return errors.Wrap(
				engine.Start(cfg.Listen()),
				"could not run server",
			)
		},
	}
)

func newLogger() logger.Logger {
	log := logrus.New()
	log.SetFormatter(&logger.LogrusTextFormatter{
		DisableColors:   false,
		ForceColors:     true,
		ForceFormatting: true,
		PrefixRE:        regexp.MustCompile(`^(\[.*?\])\s`),
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return logger.WrapLogrus(log)
}

func offline(cfg *config.Config, fn func(logger.Logger, database.Client, storage.Store) error) error {
	db, err := database.StormOpen(cfg.DatabasePath)
	if err != nil {
		return errors.Wrap(err, "could not open database")
	}
	defer db.Close()

	return fn(newLogger(), db, storage.NewFileSystem(cfg.StoragePath))
}
