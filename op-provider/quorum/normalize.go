package quorum

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/sync/errgroup"

	"github.com/mantlenetworkio/ethrpc/op-provider/jsonrpc"
)

// latestPinnedMethods take a block parameter in last position.
var latestPinnedMethods = map[string]struct{}{
	"eth_call":             {},
	"eth_createAccessList": {},
	"eth_getStorageAt":     {},
	"eth_getCode":          {},
	"eth_getProof":         {},
	"trace_call":           {},
	"trace_block":          {},
}

const latestTag = `"latest"`

// normalize replaces a trailing "latest" with the lowest head reported by the backends.
// If that lookup fails the request is left untouched.
func (q *Transport) normalize(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Request {
	if _, ok := latestPinnedMethods[req.Method]; !ok {
		return req
	}
	params, err := req.ParamList()
	if err != nil || len(params) == 0 || string(params[len(params)-1]) != latestTag {
		return req
	}
	head, err := q.minimumBlockNumber(ctx)
	if err != nil {
		q.log.Warn("Cannot pin latest block, sending as is", "method", req.Method, "err", err)
		return req
	}
	pinned, err := json.Marshal(hexutil.Uint64(head))
	if err != nil {
		return req
	}
	params[len(params)-1] = pinned
	encoded, err := json.Marshal(params)
	if err != nil {
		return req
	}
	cpy := *req
	cpy.Params = encoded
	return &cpy
}

func (q *Transport) minimumBlockNumber(ctx context.Context) (uint64, error) {
	heads := make([]uint64, len(q.backends))
	g, ctx := errgroup.WithContext(ctx)
	for i, b := range q.backends {
		g.Go(func() error {
			req, err := jsonrpc.NewRequest(b.Transport.NextID(), "eth_blockNumber")
			if err != nil {
				return err
			}
			res, err := b.Transport.Send(ctx, req)
			if err != nil {
				return fmt.Errorf("%s: %w", b.Name, err)
			}
			var n hexutil.Uint64
			if err := json.Unmarshal(res, &n); err != nil {
				return fmt.Errorf("%s: %w", b.Name, &jsonrpc.DecodeError{Raw: string(res), Err: err})
			}
			heads[i] = uint64(n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	lowest := heads[0]
	for _, h := range heads[1:] {
		lowest = min(lowest, h)
	}
	return lowest, nil
}
