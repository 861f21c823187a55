// Package middleware holds the layers stacked on top of a provider.Client.
// Each layer embeds the client below it, so every method it does not override is forwarded unchanged.
package middleware

import (
	"errors"

	"github.com/mantlenetworkio/ethrpc/op-provider/provider"
)

// Error is returned by a layer for failures in its own concern, or from the layers below
// while it was handling a call it intercepts.
type Error struct {
	Layer string
	Err   error
}

func (e *Error) Error() string {
	return e.Layer + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(layer string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Layer: layer, Err: err}
}

// Layers lists the layers an error passed through, outermost first.
func Layers(err error) []string {
	var out []string
	for {
		var lerr *Error
		if !errors.As(err, &lerr) {
			return out
		}
		out = append(out, lerr.Layer)
		err = lerr.Err
	}
}

// Layer builds a middleware on top of inner.
type Layer func(inner provider.Client) provider.Client

// Chain applies the layers in order: the first one wraps inner, the last one is outermost.
func Chain(inner provider.Client, layers ...Layer) provider.Client {
	out := inner
	for _, l := range layers {
		out = l(out)
	}
	return out
}
