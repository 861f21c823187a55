package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/mantlenetworkio/ethrpc/op-provider/flags"
	opservice "github.com/mantlenetworkio/ethrpc/op-service"
)

var (
	Version   = "v0.0.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := run(ctx, os.Stdout, os.Stderr, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(ctx context.Context, w io.Writer, ew io.Writer, args []string) error {
	app := cli.NewApp()
	app.Writer = w
	app.ErrWriter = ew
	app.Flags = flags.Flags
	app.Version = opservice.FormatVersion(Version, GitCommit, GitDate, "")
	app.Name = "op-provider"
	app.Usage = "Ethereum JSON-RPC client with retries, quorum and transaction middleware."
	app.Description = "Sends JSON-RPC calls through the configured transport stack.\n" +
		" Several --rpc endpoints form a quorum, answers are returned once enough backends agree."
	app.Commands = []*cli.Command{
		callCommand,
		batchCommand,
		subscribeCommand,
		waitTxCommand,
		{
			Name:        "doc",
			Subcommands: []*cli.Command{metricsDocCommand},
		},
	}
	return app.RunContext(ctx, args)
}
