package jsonrpc

import (
	"fmt"
)

// Reorder permutes responses into the order of the sent ids.
// A length mismatch, a duplicate, or an unknown id is an *IncompleteBatchError, never a partial result.
func Reorder(sent []ID, responses []*Response) ([]*Response, error) {
	if len(sent) != len(responses) {
		return nil, &IncompleteBatchError{Expected: len(sent), Got: len(responses)}
	}
	index := make(map[ID]int, len(sent))
	for i, id := range sent {
		if _, dup := index[id]; dup {
			return nil, fmt.Errorf("duplicate request id %d in batch", id)
		}
		index[id] = i
	}
	out := make([]*Response, len(sent))
	for _, resp := range responses {
		i, ok := index[resp.ID]
		if !ok || out[i] != nil {
			return nil, &IncompleteBatchError{Expected: len(sent), Got: len(responses)}
		}
		out[i] = resp
	}
	return out, nil
}

// IDs lists the ids of a batch, in order.
func IDs(reqs []*Request) []ID {
	out := make([]ID, len(reqs))
	for i, r := range reqs {
		out[i] = r.ID
	}
	return out
}
