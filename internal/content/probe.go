package content

import (
	"context"

	"github.com/keithlinneman/vitesheet/internal/xerrors"
)

var (
	ErrNoSnapshot   = xerrors.New("content: no active snapshot")
	ErrPageNotFound = xerrors.New("content: page not found")
)

// ReadyErr returns ErrNoSnapshot until a snapshot has been set.
func (m *Manager) ReadyErr() error {
	if _, ok := m.Get(); !ok {
		return ErrNoSnapshot
	}
	return nil
}

// Check implements health.Probe over ReadyErr.
func (m *Manager) Check(context.Context) error { return m.ReadyErr() }
