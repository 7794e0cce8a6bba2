// Command kalatori-chaind runs the multi-chain payment daemon's
// chain-interaction core: it loads a TOML chain list, starts the signer
// worker, connects one watcher per configured chain, and serves
// WatchAccount/Reap requests until terminated. The HTTP surface and
// persistent order database that would normally drive those requests
// are external collaborators, out of scope for this binary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/kalatori/chaind/internal/chain"
	"github.com/kalatori/chaind/internal/config"
	"github.com/kalatori/chaind/internal/klog"
	"github.com/kalatori/chaind/internal/rpc"
	"github.com/kalatori/chaind/internal/signer"
	"github.com/kalatori/chaind/internal/state"
	"github.com/kalatori/chaind/internal/tasks"
)

var configFlag = &cli.StringFlag{
	Name:     "config",
	Aliases:  []string{"c"},
	Usage:    "path to the chain list TOML file",
	Required: true,
}

var jsonLogFlag = &cli.BoolFlag{
	Name:  "json",
	Usage: "emit structured JSON logs instead of the terminal format",
}

const shutdownGrace = 30 * time.Second

func main() {
	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintf(os.Stderr, "kalatori-chaind: maxprocs: %v\n", err)
	}

	app := &cli.App{
		Name:  "kalatori-chaind",
		Usage: "multi-chain payment watcher and payout daemon",
		Flags: []cli.Flag{configFlag, jsonLogFlag},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "kalatori-chaind: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log := klog.New(klog.NewTerminalHandler(os.Stderr))
	if c.Bool("json") {
		log = klog.New(klog.JSONHandler(os.Stdout))
	}
	klog.SetRoot(log)

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	descriptors, err := cfg.Descriptors()
	if err != nil {
		return err
	}
	mnemonic, err := cfg.Mnemonic()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr := tasks.New(ctx, log)

	signerWorker, signerHandle, err := signer.NewFromMnemonic(tr.Context(), mnemonic, log.With("component", "signer"))
	if err != nil {
		return err
	}
	_ = signerWorker

	st := state.NewInMemory().Interface()

	manager, err := chain.NewManager(descriptors, rpc.Dial, st, signerHandle, tr, log.With("component", "chain-manager"))
	if err != nil {
		return err
	}
	manager.Start()

	log.Info("kalatori-chaind started", "chains", len(descriptors))

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Warn("chain manager shutdown error", "err", err)
	}
	if err := signerHandle.Shutdown(shutdownCtx); err != nil {
		log.Warn("signer shutdown error", "err", err)
	}

	return tr.Shutdown()
}
