//go:build unix

package quota

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

// LocalFS stats paths on this host.
type LocalFS struct{}

// Stat returns the file info and owning group id of name.
func (LocalFS) Stat(ctx context.Context, name string) (fs.FileInfo, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	info, err := os.Stat(name)
	if err != nil {
		return nil, 0, err
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil, 0, fmt.Errorf("stat %s: no ownership information", name)
	}
	return info, int(st.Gid), nil
}
