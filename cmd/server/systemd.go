package main

import (
	"errors"
	"net"
	"os"

	"github.com/keithlinneman/vitesheet/internal/xerrors"
)

var errNoNotifySocket = errors.New("NOTIFY_SOCKET not set")

// notifySystemd sends READY=1 when running as a Type=notify unit.
func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return errNoNotifySocket
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return xerrors.Wrap(err, "dial notify socket")
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return xerrors.Wrap(err, "write notify socket")
	}
	return nil
}
