//go:build !linux
// +build !linux

package main

import (
	"runtime"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

func unsupported(c *cli.Context) error {
	return errors.Errorf("%s needs a Linux HCI socket; %s is not supported", c.Command.Name, runtime.GOOS)
}

var (
	advertise = unsupported
	scan      = unsupported
	serve     = unsupported
	discover  = unsupported
)
