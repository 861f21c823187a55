package service

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/mantlenetworkio/ethrpc/op-provider/quorum"
)

// BackendsFile is the TOML description of a quorum:
//
//	rule = "majority"
//	normalize_latest = true
//	[[backend]]
//	url = "wss://node-a"
//	weight = 2
type BackendsFile struct {
	Rule            *quorum.Rule   `toml:"rule"`
	NormalizeLatest bool           `toml:"normalize_latest"`
	Backends        []BackendEntry `toml:"backend"`
}

type BackendEntry struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`
	// Weight defaults to 1.
	Weight uint64 `toml:"weight"`
}

func LoadBackendsFile(path string) (*BackendsFile, error) {
	var f BackendsFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("failed to read backends file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys in backends file %s: %v", path, undecoded)
	}
	if len(f.Backends) == 0 {
		return nil, errors.New("backends file lists no backend")
	}
	for i := range f.Backends {
		b := &f.Backends[i]
		if b.URL == "" {
			return nil, fmt.Errorf("backend %d has no url", i)
		}
		if b.Weight == 0 {
			b.Weight = 1
		}
	}
	return &f, nil
}
