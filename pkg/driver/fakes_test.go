package driver

import (
	"context"
	"errors"
	"io/fs"
	"slices"
	"sort"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/hpcops/allocsync/pkg/config"
	"github.com/hpcops/allocsync/pkg/engine"
	"github.com/hpcops/allocsync/pkg/runner"
	"github.com/hpcops/allocsync/pkg/telemetry"
)

// fakeRecords is an in-memory system of record.
type fakeRecords struct {
	mu          sync.Mutex
	users       []engine.User
	memberships map[int64][]engine.Membership
	allocations map[string][]engine.Allocation
	failOn      map[int64]error

	active map[int64]bool
	emails map[int64]string
	usage  map[string]map[int64]float64
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		memberships: make(map[int64][]engine.Membership),
		allocations: make(map[string][]engine.Allocation),
		failOn:      make(map[int64]error),
		active:      make(map[int64]bool),
		emails:      make(map[int64]string),
		usage:       make(map[string]map[int64]float64),
	}
}

func (r *fakeRecords) ListUsers(context.Context) ([]engine.User, error) {
	return r.users, nil
}

func (r *fakeRecords) UserMemberships(_ context.Context, userID int64, _ string) ([]engine.Membership, error) {
	if err := r.failOn[userID]; err != nil {
		return nil, err
	}
	return r.memberships[userID], nil
}

func (r *fakeRecords) ActiveAllocations(_ context.Context, resourceName string) ([]engine.Allocation, error) {
	return r.allocations[resourceName], nil
}

func (r *fakeRecords) SetUserActive(_ context.Context, userID int64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[userID] = active
	return nil
}

func (r *fakeRecords) SetUserEmail(_ context.Context, userID int64, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emails[userID] = email
	return nil
}

func (r *fakeRecords) SetAllocationUsage(_ context.Context, allocationID int64, attribute string, value float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.usage[attribute] == nil {
		r.usage[attribute] = make(map[int64]float64)
	}
	r.usage[attribute][allocationID] = value
	return nil
}

// fakeDirectory is an in-memory directory keyed by group.
type fakeDirectory struct {
	mu     sync.Mutex
	groups map[string][]string
	emails map[string]string
	calls  []string
	closed bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		groups: make(map[string][]string),
		emails: make(map[string]string),
	}
}

func (d *fakeDirectory) GroupsOfUser(_ context.Context, username string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	found := false
	for g, members := range d.groups {
		if slices.Contains(members, username) {
			out = append(out, g)
			found = true
		}
	}
	if _, ok := d.emails[username]; ok {
		found = true
	}
	if !found {
		return nil, engine.NewLookupError("groups_of_user", username, errors.New("no such user"))
	}
	sort.Strings(out)
	return out, nil
}

func (d *fakeDirectory) AddMember(_ context.Context, group, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, "add:"+group+":"+username)
	d.groups[group] = append(d.groups[group], username)
	return nil
}

func (d *fakeDirectory) RemoveMember(_ context.Context, group, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, "remove:"+group+":"+username)
	d.groups[group] = slices.DeleteFunc(d.groups[group], func(m string) bool { return m == username })
	return nil
}

func (d *fakeDirectory) UserEmail(_ context.Context, username string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.emails[username], nil
}

func (d *fakeDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// fakeRunner answers commands by their rendered argv and records every call.
type fakeRunner struct {
	mu        sync.Mutex
	responses map[string]*runner.Result
	calls     []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: make(map[string]*runner.Result)}
}

func (r *fakeRunner) Run(_ context.Context, cmd runner.Command) (*runner.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := cmd.String()
	r.calls = append(r.calls, key)
	if res, ok := r.responses[key]; ok {
		return res, nil
	}
	return &runner.Result{}, nil
}

// fakeFS serves stat results from a map; missing paths do not exist.
type fakeFS struct {
	entries map[string]fakeFileInfo
}

func (f *fakeFS) Stat(_ context.Context, name string) (fs.FileInfo, int, error) {
	info, ok := f.entries[name]
	if !ok {
		return nil, 0, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return info, info.gid, nil
}

type fakeFileInfo struct {
	name string
	mode fs.FileMode
	gid  int
}

func (fi fakeFileInfo) Name() string       { return fi.name }
func (fi fakeFileInfo) Size() int64        { return 4096 }
func (fi fakeFileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (fi fakeFileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi fakeFileInfo) Sys() any           { return nil }

// denyGuard refuses every action of one kind.
type denyGuard struct {
	kind engine.ActionKind
}

func (g denyGuard) Allow(_ context.Context, action engine.Action) (engine.Decision, error) {
	if action.Kind == g.kind {
		return engine.Decision{Allowed: false, Reasons: []string{"test: denied"}}, nil
	}
	return engine.Decision{Allowed: true}, nil
}

// excludeFilter drops the named entities.
type excludeFilter map[string]bool

func (f excludeFilter) Include(_ context.Context, _ engine.EntityKind, name string) (bool, error) {
	return !f[name], nil
}

type failingFilter struct{}

func (failingFilter) Include(context.Context, engine.EntityKind, string) (bool, error) {
	return false, errors.New("script error")
}

// brokenPipe fails every write like a closed stdout.
type brokenPipe struct{}

func (brokenPipe) Write([]byte) (int, error) {
	return 0, syscall.EPIPE
}

func newTestTelemetry(t *testing.T, textfile string) *telemetry.Telemetry {
	t.Helper()
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "error"
	cfg.Metrics.TextfilePath = textfile
	tel, err := telemetry.New(cfg)
	if err != nil {
		t.Fatalf("failed to create telemetry: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	return tel
}

func newTestConfig() *config.Config {
	cfg := config.Default()
	cfg.LDAP.URL = "ldap://ldap.example.org"
	cfg.LDAP.UserBase = "ou=people,dc=example,dc=org"
	cfg.LDAP.GroupBase = "ou=groups,dc=example,dc=org"
	cfg.Database.Path = ":memory:"
	cfg.Storage.Provision = false
	return cfg
}

// withDirectory serves dir as the directory session of every run.
func withDirectory(dir *fakeDirectory) Option {
	return WithAdapters(Adapters{
		Directory: func(context.Context) (DirectorySession, error) { return dir, nil },
	})
}

// withStorage serves r and fsys as the storage host of every run.
func withStorage(r runner.Runner, fsys *fakeFS) Option {
	return WithAdapters(Adapters{
		Storage: func(context.Context) (*StorageHost, error) {
			return &StorageHost{Runner: r, FS: fsys}, nil
		},
		Usage: func(context.Context) (runner.Runner, error) { return r, nil },
	})
}

func active(groups ...string) engine.Membership {
	return engine.Membership{Status: engine.MembershipStatusActive, Allocation: allocation(engine.AllocationStatusActive, groups...)}
}

func removed(groups ...string) engine.Membership {
	return engine.Membership{Status: engine.MembershipStatusRemoved, Allocation: allocation(engine.AllocationStatusActive, groups...)}
}

func allocation(status engine.AllocationStatus, groups ...string) engine.Allocation {
	alloc := engine.Allocation{
		Status:    status,
		Resources: []engine.Resource{{ID: 1, Name: "Cluster", Available: true}},
	}
	for _, g := range groups {
		alloc.Attributes = append(alloc.Attributes, engine.Attribute{Name: engine.DefaultGroupAttribute, Value: g})
	}
	return alloc
}
