//go:build !unix

package quota

import (
	"context"
	"errors"
	"io/fs"
)

// LocalFS stats paths on this host. Group ownership is only available on unix.
type LocalFS struct{}

// Stat always fails on this platform.
func (LocalFS) Stat(ctx context.Context, name string) (fs.FileInfo, int, error) {
	return nil, 0, errors.New("local storage provisioning requires a unix host")
}
