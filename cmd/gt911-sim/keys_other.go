//go:build !linux

package main

import (
	"context"
	"errors"

	"touchchip-go/sim"
)

func runKeys(context.Context, *sim.Host, string) error {
	return errors.New("key mode needs a linux terminal")
}
