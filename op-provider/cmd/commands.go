package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/hashicorp/go-multierror"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/mantlenetworkio/ethrpc/op-provider/flags"
	"github.com/mantlenetworkio/ethrpc/op-provider/jsonrpc"
	"github.com/mantlenetworkio/ethrpc/op-provider/metrics"
	"github.com/mantlenetworkio/ethrpc/op-provider/provider"
	"github.com/mantlenetworkio/ethrpc/op-provider/service"
	oplog "github.com/mantlenetworkio/ethrpc/op-service/log"
	opmetrics "github.com/mantlenetworkio/ethrpc/op-service/metrics"
)

const metricsStopTimeout = 5 * time.Second

var ConfirmationsFlag = &cli.Uint64Flag{
	Name:  "confirmations",
	Usage: "Blocks to wait for on top of the inclusion block",
	Value: 1,
}

var callCommand = &cli.Command{
	Name:      "call",
	Usage:     "Send a single request and print the result",
	ArgsUsage: "<method> [params...]",
	Description: "Every param that is valid JSON is sent as is, anything else is sent as a string:\n" +
		"  op-provider --rpc http://localhost:8545 call eth_getBalance 0x... latest",
	Action: withClient(func(cliCtx *cli.Context, e *env) error {
		if cliCtx.NArg() < 1 {
			return errors.New("missing method")
		}
		var result json.RawMessage
		params := parseParams(cliCtx.Args().Tail())
		if err := e.client.CallContext(cliCtx.Context, &result, cliCtx.Args().First(), params...); err != nil {
			return err
		}
		return printJSON(cliCtx.App.Writer, result)
	}),
}

var batchCommand = &cli.Command{
	Name:      "batch",
	Usage:     "Send requests in one batch and print every result",
	ArgsUsage: "<method[:params]>...",
	Description: "Params of an element are a JSON array following the method:\n" +
		"  op-provider --rpc http://localhost:8545 batch eth_chainId 'eth_getBlockByNumber:[\"latest\",false]'",
	Action: withClient(func(cliCtx *cli.Context, e *env) error {
		if cliCtx.NArg() < 1 {
			return errors.New("missing batch elements")
		}
		elems := make([]rpc.BatchElem, 0, cliCtx.NArg())
		for _, arg := range cliCtx.Args().Slice() {
			elem, err := parseBatchElem(arg)
			if err != nil {
				return err
			}
			elems = append(elems, elem)
		}
		if err := e.client.BatchCallContext(cliCtx.Context, elems); err != nil {
			return err
		}
		return printBatch(cliCtx.App.Writer, elems)
	}),
}

var subscribeCommand = &cli.Command{
	Name:      "subscribe",
	Usage:     "Subscribe and print notifications until interrupted",
	ArgsUsage: "<kind> [params...]",
	Description: "Requires a WebSocket or IPC endpoint:\n" +
		"  op-provider --rpc ws://localhost:8546 subscribe newHeads",
	Action: withClient(func(cliCtx *cli.Context, e *env) error {
		if cliCtx.NArg() < 1 {
			return errors.New("missing subscription kind")
		}
		args := append([]any{cliCtx.Args().First()}, parseParams(cliCtx.Args().Tail())...)
		sub, err := provider.Subscribe[json.RawMessage](cliCtx.Context, e.client, e.log, args...)
		if err != nil {
			return err
		}
		defer sub.Guard()()
		e.log.Info("Subscribed", "id", sub.ID())
		return printNotifications(cliCtx.Context, cliCtx.App.Writer, e.log, sub)
	}),
}

var waitTxCommand = &cli.Command{
	Name:      "wait-tx",
	Usage:     "Wait for a transaction to be mined and print its receipt",
	ArgsUsage: "<hash>",
	Flags:     []cli.Flag{ConfirmationsFlag},
	Action: withClient(func(cliCtx *cli.Context, e *env) error {
		if cliCtx.NArg() != 1 {
			return errors.New("expected exactly one transaction hash")
		}
		raw := cliCtx.Args().First()
		if len(common.FromHex(raw)) != common.HashLength {
			return fmt.Errorf("invalid transaction hash %q", raw)
		}
		confirmations := cliCtx.Uint64(ConfirmationsFlag.Name)
		receipt, err := provider.NewPendingTransaction(e.client, common.HexToHash(raw), e.log).
			WithInterval(e.cfg.PollInterval).
			WithConfirmations(confirmations).
			Wait(cliCtx.Context)
		if err != nil {
			return err
		}
		out, err := json.Marshal(receipt)
		if err != nil {
			return err
		}
		return printJSON(cliCtx.App.Writer, out)
	}),
}

var metricsDocCommand = &cli.Command{
	Name:  "metrics",
	Usage: "Print the metrics exposed with --metrics.enabled",
	Action: func(cliCtx *cli.Context) error {
		table := tablewriter.NewWriter(cliCtx.App.Writer)
		table.SetHeader([]string{"Metric", "Type", "Labels", "Description"})
		table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
		table.SetCenterSeparator("|")
		table.SetAutoWrapText(false)
		for _, m := range metrics.NewMetrics("default").Document() {
			table.Append([]string{m.Name, m.Type, strings.Join(m.Labels, ","), m.Help})
		}
		table.Render()
		return nil
	},
}

// env holds what a command needs to talk to the endpoints.
type env struct {
	log    log.Logger
	cfg    *service.CLIConfig
	client provider.Client
	server *opmetrics.Server
}

func withClient(fn func(cliCtx *cli.Context, e *env) error) cli.ActionFunc {
	return func(cliCtx *cli.Context) error {
		e, err := setup(cliCtx)
		if err != nil {
			return err
		}
		err = fn(cliCtx, e)
		if closeErr := e.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
		return err
	}
}

func setup(cliCtx *cli.Context) (*env, error) {
	if err := flags.CheckRequired(cliCtx); err != nil {
		return nil, err
	}
	cfg, err := service.ReadCLIConfig(cliCtx)
	if err != nil {
		return nil, err
	}
	e := &env{
		log: oplog.NewLogger(cliCtx.App.ErrWriter, cfg.LogConfig),
		cfg: cfg,
	}

	m := metrics.NoopMetrics
	if cfg.MetricsConfig.Enabled {
		pm := metrics.NewMetrics("default")
		srv, err := opmetrics.StartServer(pm.Registry(), cfg.MetricsConfig.ListenAddr, cfg.MetricsConfig.ListenPort)
		if err != nil {
			return nil, fmt.Errorf("failed to start metrics server: %w", err)
		}
		e.log.Info("Started metrics server", "addr", srv.Addr())
		pm.RecordInfo(cliCtx.App.Version)
		pm.RecordUp()
		m = pm
		e.server = srv
	}

	client, err := service.NewClient(cliCtx.Context, cfg, e.log, m)
	if err != nil {
		if closeErr := e.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
		return nil, err
	}
	e.client = client
	return e, nil
}

func (e *env) Close() error {
	var result error
	if e.client != nil {
		if err := e.client.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if e.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), metricsStopTimeout)
		defer cancel()
		if err := e.server.Stop(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to stop metrics server: %w", err))
		}
	}
	return result
}

// parseParams keeps valid JSON as is, and sends everything else as a string.
func parseParams(args []string) []any {
	params := make([]any, 0, len(args))
	for _, arg := range args {
		if json.Valid([]byte(arg)) {
			params = append(params, json.RawMessage(arg))
		} else {
			params = append(params, arg)
		}
	}
	return params
}

// parseBatchElem reads "method" or "method:[params]".
func parseBatchElem(arg string) (rpc.BatchElem, error) {
	method, rawParams, hasParams := strings.Cut(arg, ":")
	if method == "" {
		return rpc.BatchElem{}, fmt.Errorf("batch element %q has no method", arg)
	}
	elem := rpc.BatchElem{Method: method, Result: new(json.RawMessage)}
	if !hasParams {
		return elem, nil
	}
	var params []json.RawMessage
	if err := json.Unmarshal([]byte(rawParams), &params); err != nil {
		return rpc.BatchElem{}, fmt.Errorf("params of %s must be a JSON array: %w", method, err)
	}
	for _, p := range params {
		elem.Args = append(elem.Args, p)
	}
	return elem, nil
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

func printBatch(w io.Writer, elems []rpc.BatchElem) error {
	for i, elem := range elems {
		if _, err := fmt.Fprintf(w, "[%d] %s: ", i, elem.Method); err != nil {
			return err
		}
		if elem.Error != nil {
			if _, err := fmt.Fprintf(w, "error: %v\n", elem.Error); err != nil {
				return err
			}
			continue
		}
		if err := printJSON(w, *elem.Result.(*json.RawMessage)); err != nil {
			return err
		}
	}
	return nil
}

func printNotifications(ctx context.Context, w io.Writer, logger log.Logger, sub *provider.Subscription[json.RawMessage]) error {
	for {
		item, err := sub.Next(ctx)
		var decodeErr *jsonrpc.DecodeError
		switch {
		case errors.Is(err, io.EOF):
			logger.Info("Subscription ended")
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		case errors.As(err, &decodeErr):
			logger.Warn("Skipping undecodable notification", "err", err)
			continue
		case err != nil:
			return err
		}
		if _, err := fmt.Fprintf(w, "%s\n", item); err != nil {
			return err
		}
	}
}
