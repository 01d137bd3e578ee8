package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"termchat/config"
	"termchat/db"
	"termchat/logger"
	"termchat/server"
	"termchat/store"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "termchat",
	Short: "Line-oriented chat server",
	Long: `termchat serves a newline-delimited text chat protocol over TCP.

Users register and log in, exchange public, private and group messages,
and keep friends, groups and an offline mailbox in flat record files
(or SQLite with --store sqlite).

Examples:
  termchat --port 8080 --data-dir /var/lib/termchat
  CHAT_CONTROL_SOCKET=/tmp/termchat.sock termchat --config termchat.yaml`,
	SilenceUsage: true,
	RunE:         runServer,
}

var v = config.New()

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configFile, "config", "", "YAML configuration file")
	flags.Int("port", 8080, "TCP listen port")
	flags.String("data-dir", ".", "Directory of the record files")
	flags.String("store", config.StoreFile, "Record backend: file or sqlite")

	v.BindPFlag("port", flags.Lookup("port"))
	v.BindPFlag("data_dir", flags.Lookup("data-dir"))
	v.BindPFlag("store", flags.Lookup("store"))
}

func openStore(cfg *config.Config) (store.Store, error) {
	opts := store.Options{HashPasswords: cfg.PasswordHash == config.HashBcrypt}

	if cfg.Store == config.StoreSQLite {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, err
		}
		database, err := db.New(cfg.Resolve(cfg.DBPath), opts)
		if err != nil {
			return nil, err
		}
		return database, nil
	}

	files, err := store.Open(cfg.DataDir, opts)
	if err != nil {
		return nil, err
	}
	return files, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.ParseLevel(cfg.LogLevel), cfg.LogPath, "termchat")
	if err != nil {
		return err
	}
	defer log.Close()

	records, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}
	defer records.Close()

	events, err := logger.NewEventLog(cfg.Resolve(cfg.EventLogPath))
	if err != nil {
		return err
	}

	srv := server.New(records, server.Config{
		Addr:            cfg.Addr(),
		MaxClients:      cfg.MaxClients,
		InputBufferSize: cfg.InputBufferSize,
		WriteTimeout:    cfg.WriteTimeout,
	}, log.WithPrefix("server"), events)

	if err := srv.Listen(); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr(), err)
	}

	if cfg.ControlSocket != "" {
		go func() {
			if err := srv.ServeControl(cfg.ControlSocket); err != nil {
				log.Error("control socket: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	signal.Ignore(syscall.SIGPIPE)

	go func() {
		sig := <-sigChan
		log.Info("received signal %v, shutting down", sig)
		srv.Shutdown("maintenance")
	}()

	return srv.Serve()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
