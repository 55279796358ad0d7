package driver

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcops/allocsync/pkg/config"
	"github.com/hpcops/allocsync/pkg/engine"
	"github.com/hpcops/allocsync/pkg/quota"
	"github.com/hpcops/allocsync/pkg/runner"
)

const testSquotaReport = `Filesystem|Project|Files|FileLimit|Blocks|Usage|Quota
/gpfs/projects|proj1|10|0|100|42.567|500
/gpfs/projects|proj2|5|0|1|1.5|None
`

func storageAllocation(id int64, attrs ...engine.Attribute) engine.Allocation {
	return engine.Allocation{
		ID:     id,
		Status: engine.AllocationStatusActive,
		Resources: []engine.Resource{{
			ID:         2,
			Name:       config.DefaultStorageResource,
			Available:  true,
			Attributes: map[string]string{engine.DefaultFilesystemAttribute: "/gpfs/projects"},
		}},
		Attributes: attrs,
	}
}

func groupAttr(v string) engine.Attribute {
	return engine.Attribute{Name: engine.DefaultGroupAttribute, Value: v}
}

func quotaAttr(v string) engine.Attribute {
	return engine.Attribute{Name: engine.DefaultQuotaAttribute, Value: v}
}

type quotasFixture struct {
	records *fakeRecords
	runner  *fakeRunner
	fs      *fakeFS
}

func newQuotasFixture() *quotasFixture {
	records := newFakeRecords()
	records.allocations[config.DefaultStorageResource] = []engine.Allocation{
		storageAllocation(12, groupAttr("proj1"), quotaAttr("500")),
		storageAllocation(20, groupAttr("proj2")),
		storageAllocation(21),
	}

	r := newFakeRunner()
	r.responses["squota -f /gpfs/projects -A -P"] = &runner.Result{Stdout: testSquotaReport}
	r.responses["getent group -- proj1"] = &runner.Result{Stdout: "proj1:*:5001:alice\n"}

	fsys := &fakeFS{entries: map[string]fakeFileInfo{
		"/gpfs/projects/proj1": {name: "proj1", mode: quota.RequiredMode, gid: 5001},
	}}

	return &quotasFixture{records: records, runner: r, fs: fsys}
}

func (f *quotasFixture) driver(t *testing.T, cfg *config.Config, opts ...Option) *Driver {
	t.Helper()
	opts = append([]Option{withStorage(f.runner, f.fs)}, opts...)
	return New(cfg, f.records, newTestTelemetry(t, ""), opts...)
}

func TestQuotasCheck_Report(t *testing.T) {
	f := newQuotasFixture()
	d := f.driver(t, newTestConfig())

	var out bytes.Buffer
	summary, err := d.QuotasCheck(context.Background(), Options{Header: true, Output: &out})
	require.NoError(t, err)

	want := "allocation\tgroup\tfilesystem\tquota_gb\tcurrent_quota_gb\tusage_gb\tactions\n" +
		"12\tproj1\t/gpfs/projects\t500\t500\t42.57\t\n" +
		"20\tproj2\t/gpfs/projects\t100\t\t1.5\tset_quota\n"
	assert.Equal(t, want, out.String())

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Count(engine.ActionSetQuota, engine.ActionStatePlanned))

	assert.Equal(t, []string{"squota -f /gpfs/projects -A -P"}, f.runner.calls, "one snapshot per filesystem")
	assert.Equal(t, map[int64]float64{12: 42.57, 20: 1.5}, f.records.usage[engine.DefaultQuotaAttribute])
}

func TestQuotasCheck_Sync(t *testing.T) {
	f := newQuotasFixture()
	d := f.driver(t, newTestConfig())

	summary, err := d.QuotasCheck(context.Background(), Options{
		Mode:   engine.Mode{Sync: true},
		Output: &bytes.Buffer{},
	})
	require.NoError(t, err)

	assert.Contains(t, f.runner.calls, "squota -f /gpfs/projects -u proj2 -q 100")
	assert.Equal(t, 1, summary.Count(engine.ActionSetQuota, engine.ActionStateApplied))
}

func TestQuotasCheck_GroupFilter(t *testing.T) {
	f := newQuotasFixture()
	d := f.driver(t, newTestConfig())

	var out bytes.Buffer
	summary, err := d.QuotasCheck(context.Background(), Options{Group: "proj1", Output: &out})
	require.NoError(t, err)

	assert.Equal(t, "12\tproj1\t/gpfs/projects\t500\t500\t42.57\t\n", out.String())
	assert.Equal(t, 1, summary.Processed)
}

func TestQuotasCheck_Provisioning(t *testing.T) {
	f := newQuotasFixture()
	cfg := newTestConfig()
	cfg.Storage.Provision = true
	d := f.driver(t, cfg)

	var out bytes.Buffer
	summary, err := d.QuotasCheck(context.Background(), Options{Output: &out})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "20\tproj2\t/gpfs/projects\t100\t\t1.5\tcreate_directory,change_group,change_mode,set_quota\n")
	assert.Contains(t, out.String(), "12\tproj1\t/gpfs/projects\t500\t500\t42.57\t\n")
	assert.Equal(t, 1, summary.Count(engine.ActionCreateDirectory, engine.ActionStatePlanned))
	assert.NotContains(t, f.runner.calls, "sudo -n mkdir -- /gpfs/projects/proj2")
}

func TestQuotasCheck_ProvisioningSync(t *testing.T) {
	f := newQuotasFixture()
	f.fs.entries["/gpfs/projects/proj2"] = fakeFileInfo{name: "proj2", mode: fs.ModeDir | 0o755, gid: 0}
	f.runner.responses["getent group -- proj2"] = &runner.Result{Stdout: "proj2:*:5002:\n"}
	cfg := newTestConfig()
	cfg.Storage.Provision = true
	d := f.driver(t, cfg)

	summary, err := d.QuotasCheck(context.Background(), Options{
		Mode:   engine.Mode{Sync: true},
		Output: &bytes.Buffer{},
	})
	require.NoError(t, err)

	assert.Contains(t, f.runner.calls, "sudo -n chgrp -- proj2 /gpfs/projects/proj2")
	assert.Contains(t, f.runner.calls, "sudo -n chmod -- 2770 /gpfs/projects/proj2")
	assert.Equal(t, 1, summary.Count(engine.ActionChangeGroup, engine.ActionStateApplied))
	assert.Equal(t, 1, summary.Count(engine.ActionChangeMode, engine.ActionStateApplied))
}

func TestQuotasCheck_ToolFailure(t *testing.T) {
	f := newQuotasFixture()
	f.runner.responses["squota -f /gpfs/projects -A -P"] = &runner.Result{ExitCode: 1, Stderr: "permission denied"}
	d := f.driver(t, newTestConfig())

	var out bytes.Buffer
	summary, err := d.QuotasCheck(context.Background(), Options{Output: &out})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, countCalls(f.runner.calls, "squota -f /gpfs/projects -A -P"), "the failure is cached for the run")
	assert.Contains(t, out.String(), "12\tproj1\t/gpfs/projects\t500\t\t\t\n")
}

func TestQuotasCheck_StorageUnavailable(t *testing.T) {
	f := newQuotasFixture()
	d := New(newTestConfig(), f.records, newTestTelemetry(t, ""), WithAdapters(Adapters{
		Storage: func(context.Context) (*StorageHost, error) {
			return nil, engine.NewFatalError("ssh_connect", errors.New("no route to host"))
		},
	}))

	summary, err := d.QuotasCheck(context.Background(), Options{Output: &bytes.Buffer{}})
	require.Error(t, err)
	assert.True(t, engine.IsFatal(err))
	assert.Equal(t, 0, summary.Processed)
}

func countCalls(calls []string, call string) int {
	n := 0
	for _, c := range calls {
		if c == call {
			n++
		}
	}
	return n
}
