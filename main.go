package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fzft/go-reactor/cmd"
	"github.com/fzft/go-reactor/config"
	"github.com/fzft/go-reactor/log"
	"github.com/fzft/go-reactor/reactor"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "cli" {
		os.Exit(runCli(os.Args[2:]))
	}

	configPath := flag.String("config", "", "TOML configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(Version())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := log.InitLogger(log.Options{Level: cfg.LogLevel, Development: cfg.Development}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Logger.Sync()

	if err := run(cfg); err != nil {
		log.Logger.Error("echo server stopped", zap.Error(err))
		os.Exit(1)
	}
}

// run owns the base loop on the main goroutine until SIGINT or SIGTERM.
func run(cfg config.Config) error {
	loop, err := reactor.NewEventLoop()
	if err != nil {
		return err
	}
	server, err := NewEchoServer(loop, cfg)
	if err != nil {
		return multierr.Append(err, loop.Close())
	}
	if err := server.Start(); err != nil {
		return multierr.Combine(err, server.Close(), loop.Close())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		loop.Quit()
	}()

	log.Logger.Info("echo server started", zap.String("name", cfg.Name), zap.String("addr", cfg.Addr),
		zap.Int("threads", cfg.Threads), zap.String("version", Version()))
	loop.Loop()
	signal.Stop(sigCh)

	return multierr.Append(server.Close(), loop.Close())
}

func runCli(args []string) int {
	addr := "127.0.0.1:8000"
	if len(args) > 0 {
		if args[0] == "-h" || args[0] == "--help" {
			cmd.Usage(os.Stdout, gitSHA1, gitDirty)
			return 0
		}
		addr = args[0]
	}
	cli, err := cmd.NewCli(addr, os.Stdout, os.Stderr)
	if err != nil {
		cmd.Usage(os.Stderr, gitSHA1, gitDirty)
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := cli.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
