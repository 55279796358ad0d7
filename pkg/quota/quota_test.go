package quota

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcops/allocsync/pkg/engine"
	"github.com/hpcops/allocsync/pkg/runner"
)

// fakeRunner answers commands by their rendered argv and records every call.
type fakeRunner struct {
	responses map[string]*runner.Result
	calls     []string
	onRun     func(cmd runner.Command)
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: make(map[string]*runner.Result)}
}

func (r *fakeRunner) Run(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
	key := cmd.String()
	r.calls = append(r.calls, key)
	if r.onRun != nil {
		r.onRun(cmd)
	}
	if res, ok := r.responses[key]; ok {
		return res, nil
	}
	return &runner.Result{}, nil
}

const squotaReport = `Filesystem|Project|Files|FileLimit|Blocks|Usage|Quota
/work|proj1|10|0|100|42.567|100
/work|proj2|5|0|0|0.5|None

/work|short
/work|proj3|1|0|1|1024|2048.5
`

func TestToolSnapshot(t *testing.T) {
	r := newFakeRunner()
	r.responses["squota -f /work -A -P"] = &runner.Result{Stdout: squotaReport}
	tool := NewTool(r, zerolog.Nop())

	snap, err := tool.Snapshot(context.Background(), "/work")
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{"proj1": 100, "proj3": 2048.5}, snap.Quotas)
	assert.Equal(t, map[string]float64{"proj1": 42.567, "proj2": 0.5, "proj3": 1024}, snap.Usages)

	_, ok := snap.Quota("proj2")
	assert.False(t, ok, "None quota is absent")
}

func TestToolSnapshotErrors(t *testing.T) {
	tests := []struct {
		name string
		res  *runner.Result
	}{
		{"non-zero exit", &runner.Result{ExitCode: 1, Stderr: "filesystem not found"}},
		{"bad usage", &runner.Result{Stdout: "header\n/work|p|1|0|1|lots|10\n"}},
		{"bad quota", &runner.Result{Stdout: "header\n/work|p|1|0|1|1|ten\n"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFakeRunner()
			r.responses["squota -f /work -A -P"] = tt.res
			_, err := NewTool(r, zerolog.Nop()).Snapshot(context.Background(), "/work")
			assert.Equal(t, engine.ErrorKindCommand, engine.KindOf(err))
		})
	}
}

func TestToolSetQuota(t *testing.T) {
	r := newFakeRunner()
	tool := NewTool(r, zerolog.Nop(), WithBinary("/usr/local/bin/squota"), WithSudo(true))

	require.NoError(t, tool.SetQuota(context.Background(), "/work", "proj; rm -rf /", 250))
	require.Len(t, r.calls, 1)
	assert.Equal(t, "sudo -n /usr/local/bin/squota -f /work -u proj; rm -rf / -q 250", r.calls[0])
}

func TestToolSetQuotaFailure(t *testing.T) {
	r := newFakeRunner()
	r.responses["squota -f /work -u proj1 -q 10"] = &runner.Result{ExitCode: 2}

	err := NewTool(r, zerolog.Nop()).SetQuota(context.Background(), "/work", "proj1", 10)
	assert.Equal(t, engine.ErrorKindCommand, engine.KindOf(err))
}

type countingSource struct {
	calls map[string]int
	err   error
}

func (s *countingSource) Snapshot(ctx context.Context, filesystem string) (*engine.QuotaSnapshot, error) {
	s.calls[filesystem]++
	if s.err != nil {
		return nil, s.err
	}
	return &engine.QuotaSnapshot{Usages: map[string]float64{filesystem: 1}}, nil
}

func TestCache(t *testing.T) {
	src := &countingSource{calls: make(map[string]int)}
	cache := NewCache(src)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		snap, err := cache.Snapshot(ctx, "/work")
		require.NoError(t, err)
		v, _ := snap.Usage("/work")
		assert.Equal(t, 1.0, v)
	}
	_, err := cache.Snapshot(ctx, "/scratch")
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls["/work"])
	assert.Equal(t, 1, src.calls["/scratch"])
	assert.Equal(t, 2, cache.Len())
}

func TestCacheKeepsErrors(t *testing.T) {
	src := &countingSource{calls: make(map[string]int), err: errors.New("squota missing")}
	cache := NewCache(src)

	for i := 0; i < 2; i++ {
		_, err := cache.Snapshot(context.Background(), "/work")
		assert.Error(t, err)
	}
	assert.Equal(t, 1, src.calls["/work"])
}

// fakeFileInfo is a directory entry with a fixed mode.
type fakeFileInfo struct {
	name string
	mode fs.FileMode
}

func (f fakeFileInfo) Name() string       { return f.name }
func (f fakeFileInfo) Size() int64        { return 4096 }
func (f fakeFileInfo) Mode() fs.FileMode  { return f.mode }
func (f fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (f fakeFileInfo) IsDir() bool        { return f.mode.IsDir() }
func (f fakeFileInfo) Sys() any           { return nil }

type fakeDir struct {
	mode fs.FileMode
	gid  int
}

// fakeFS holds directories by path and counts stats.
type fakeFS struct {
	dirs  map[string]*fakeDir
	stats int
}

func (f *fakeFS) Stat(ctx context.Context, name string) (fs.FileInfo, int, error) {
	f.stats++
	d, ok := f.dirs[name]
	if !ok {
		return nil, 0, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return fakeFileInfo{name: filepath.Base(name), mode: d.mode}, d.gid, nil
}

type staticGroups map[string]int

func (g staticGroups) GroupID(ctx context.Context, group string) (int, error) {
	gid, ok := g[group]
	if !ok {
		return 0, errors.New("no such group")
	}
	return gid, nil
}

// applyingRunner mutates fsys the way mkdir, chgrp and chmod would.
func applyingRunner(fsys *fakeFS, groups staticGroups) *fakeRunner {
	r := newFakeRunner()
	r.onRun = func(cmd runner.Command) {
		args := cmd.Args
		if len(args) > 0 && args[0] == "--" {
			args = args[1:]
		}
		switch cmd.Name {
		case "mkdir":
			fsys.dirs[args[0]] = &fakeDir{mode: fs.ModeDir | 0o755}
		case "chgrp":
			fsys.dirs[args[1]].gid = groups[args[0]]
		case "chmod":
			fsys.dirs[args[1]].mode = RequiredMode
		}
	}
	return r
}

func kinds(actions []engine.Action) []engine.ActionKind {
	out := make([]engine.ActionKind, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Kind)
	}
	return out
}

func TestProvisionerCreatesDirectory(t *testing.T) {
	fsys := &fakeFS{dirs: make(map[string]*fakeDir)}
	groups := staticGroups{"proj1": 5001}
	r := applyingRunner(fsys, groups)
	p := NewProvisioner(fsys, groups, r, zerolog.Nop())

	actions, err := p.Ensure(context.Background(), "/work", "proj1", true)
	require.NoError(t, err)

	assert.Equal(t, []engine.ActionKind{
		engine.ActionCreateDirectory, engine.ActionChangeGroup, engine.ActionChangeMode,
	}, kinds(actions))
	for _, a := range actions {
		assert.Equal(t, engine.ActionStateApplied, a.State)
	}
	assert.Equal(t, []string{
		"sudo -n mkdir -- /work/proj1",
		"sudo -n chgrp -- proj1 /work/proj1",
		"sudo -n chmod -- 2770 /work/proj1",
	}, r.calls)
	assert.Equal(t, &fakeDir{mode: RequiredMode, gid: 5001}, fsys.dirs["/work/proj1"])

	r.calls = nil
	actions, err = p.Ensure(context.Background(), "/work", "proj1", true)
	require.NoError(t, err)
	assert.Empty(t, actions)
	assert.Empty(t, r.calls)
}

func TestProvisionerPlansWithoutApplying(t *testing.T) {
	fsys := &fakeFS{dirs: map[string]*fakeDir{
		"/work/proj2": {mode: fs.ModeDir | 0o775, gid: 5002},
	}}
	groups := staticGroups{"proj1": 5001, "proj2": 5002}
	r := newFakeRunner()
	p := NewProvisioner(fsys, groups, r, zerolog.Nop()).WithoutSudo()

	actions, err := p.Ensure(context.Background(), "/work", "proj1", false)
	require.NoError(t, err)
	assert.Equal(t, []engine.ActionKind{
		engine.ActionCreateDirectory, engine.ActionChangeGroup, engine.ActionChangeMode,
	}, kinds(actions))

	actions, err = p.Ensure(context.Background(), "/work", "proj2", false)
	require.NoError(t, err)
	assert.Equal(t, []engine.ActionKind{engine.ActionChangeMode}, kinds(actions))
	assert.Empty(t, actions[0].State)

	assert.Empty(t, r.calls)
}

func TestProvisionerFailures(t *testing.T) {
	t.Run("invalid group", func(t *testing.T) {
		p := NewProvisioner(&fakeFS{}, staticGroups{}, newFakeRunner(), zerolog.Nop())
		_, err := p.Ensure(context.Background(), "/work", "../etc", true)
		assert.Equal(t, engine.ErrorKindInvalid, engine.KindOf(err))
	})

	t.Run("not a directory", func(t *testing.T) {
		fsys := &fakeFS{dirs: map[string]*fakeDir{"/work/proj1": {mode: 0o644}}}
		p := NewProvisioner(fsys, staticGroups{"proj1": 1}, newFakeRunner(), zerolog.Nop())
		_, err := p.Ensure(context.Background(), "/work", "proj1", true)
		assert.Equal(t, engine.ErrorKindInvalid, engine.KindOf(err))
	})

	t.Run("unknown group", func(t *testing.T) {
		fsys := &fakeFS{dirs: map[string]*fakeDir{"/work/proj1": {mode: RequiredMode}}}
		p := NewProvisioner(fsys, staticGroups{}, newFakeRunner(), zerolog.Nop())
		_, err := p.Ensure(context.Background(), "/work", "proj1", true)
		assert.Equal(t, engine.ErrorKindLookup, engine.KindOf(err))
	})

	t.Run("mkdir fails", func(t *testing.T) {
		r := newFakeRunner()
		r.responses["sudo -n mkdir -- /work/proj1"] = &runner.Result{ExitCode: 1, Stderr: "permission denied"}
		p := NewProvisioner(&fakeFS{dirs: map[string]*fakeDir{}}, staticGroups{"proj1": 1}, r, zerolog.Nop())

		actions, err := p.Ensure(context.Background(), "/work", "proj1", true)
		assert.Equal(t, engine.ErrorKindCommand, engine.KindOf(err))
		require.Len(t, actions, 1)
		assert.Equal(t, engine.ActionStateFailed, actions[0].State)
		assert.Contains(t, actions[0].Error, "permission denied")
	})
}

func TestGetentGroups(t *testing.T) {
	r := newFakeRunner()
	r.responses["getent group -- proj1"] = &runner.Result{Stdout: "proj1:*:5001:alice,bob\n"}
	r.responses["getent group -- nope"] = &runner.Result{ExitCode: 2}
	g := NewGetentGroups(r)

	gid, err := g.GroupID(context.Background(), "proj1")
	require.NoError(t, err)
	assert.Equal(t, 5001, gid)

	_, err = g.GroupID(context.Background(), "nope")
	assert.Error(t, err)
}

func TestLocalFS(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "proj1")
	require.NoError(t, os.Mkdir(target, 0o700))

	info, gid, err := LocalFS{}.Stat(context.Background(), target)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.Getegid(), gid)

	_, _, err = LocalFS{}.Stat(context.Background(), filepath.Join(dir, "missing"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}
