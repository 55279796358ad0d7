package quota

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hpcops/allocsync/pkg/engine"
	"github.com/hpcops/allocsync/pkg/runner"
)

// RequiredMode is the mode of a group storage directory: setgid, rwx for owner and group.
const RequiredMode = fs.ModeDir | fs.ModeSetgid | 0o770

// chmodMode is RequiredMode in chmod notation.
const chmodMode = "2770"

// FileSystem stats paths on the storage host.
// Missing paths fail with an error matching fs.ErrNotExist.
type FileSystem interface {
	Stat(ctx context.Context, name string) (info fs.FileInfo, gid int, err error)
}

// GroupLookup resolves a group name to its numeric id.
type GroupLookup interface {
	GroupID(ctx context.Context, group string) (int, error)
}

// Provisioner makes <filesystem>/<group> a directory owned by the group with
// RequiredMode. Every step re-stats the directory and only acts on a difference.
// Changes are made with sudo through the runner.
type Provisioner struct {
	fs     FileSystem
	groups GroupLookup
	runner runner.Runner
	sudo   bool
	logger zerolog.Logger
}

var _ engine.StorageProvisioner = (*Provisioner)(nil)

// NewProvisioner creates a provisioner.
func NewProvisioner(fsys FileSystem, groups GroupLookup, r runner.Runner, logger zerolog.Logger) *Provisioner {
	return &Provisioner{
		fs:     fsys,
		groups: groups,
		runner: r,
		sudo:   true,
		logger: logger.With().Str("component", "provisioner").Logger(),
	}
}

// WithoutSudo runs the mkdir, chgrp and chmod commands directly.
func (p *Provisioner) WithoutSudo() *Provisioner {
	p.sudo = false
	return p
}

// Ensure implements engine.StorageProvisioner. When apply is false the returned
// actions carry no state and nothing is changed.
func (p *Provisioner) Ensure(ctx context.Context, filesystem, group string, apply bool) ([]engine.Action, error) {
	dir, err := groupDir(filesystem, group)
	if err != nil {
		return nil, engine.NewError(engine.ErrorKindInvalid, "provision", err).WithTarget(group)
	}
	log := p.logger.With().Str("path", dir).Logger()

	var actions []engine.Action

	info, gid, err := p.fs.Stat(ctx, dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn().Msg("storage directory does not exist")
		action := engine.Action{Kind: engine.ActionCreateDirectory, Target: dir}
		if !apply {
			// mkdir leaves the default group and mode, so both fixes follow.
			return append(actions, action,
				engine.Action{Kind: engine.ActionChangeGroup, Target: dir, Value: group},
				engine.Action{Kind: engine.ActionChangeMode, Target: dir, Value: chmodMode},
			), nil
		}
		if err := p.run(ctx, &action, "mkdir", "--", dir); err != nil {
			return append(actions, action), err
		}
		actions = append(actions, action)
	case err != nil:
		return nil, engine.NewError(engine.ErrorKindCommand, "stat", err).WithTarget(dir)
	case !info.IsDir():
		return nil, engine.NewError(engine.ErrorKindInvalid, "stat", fmt.Errorf("%s is not a directory", dir)).WithTarget(dir)
	}

	want, err := p.groups.GroupID(ctx, group)
	if err != nil {
		return actions, engine.NewError(engine.ErrorKindLookup, "group_id", err).WithTarget(group)
	}

	if apply {
		if info, gid, err = p.fs.Stat(ctx, dir); err != nil {
			return actions, engine.NewError(engine.ErrorKindCommand, "stat", err).WithTarget(dir)
		}
	}
	if gid != want {
		log.Warn().Int("gid", gid).Int("want", want).Msg("storage directory has wrong group")
		action := engine.Action{Kind: engine.ActionChangeGroup, Target: dir, Value: group}
		if apply {
			if err := p.run(ctx, &action, "chgrp", "--", group, dir); err != nil {
				return append(actions, action), err
			}
		}
		actions = append(actions, action)
	}

	if apply {
		if info, _, err = p.fs.Stat(ctx, dir); err != nil {
			return actions, engine.NewError(engine.ErrorKindCommand, "stat", err).WithTarget(dir)
		}
	}
	if info.Mode() != RequiredMode {
		log.Warn().Str("mode", info.Mode().String()).Msg("storage directory has wrong mode")
		action := engine.Action{Kind: engine.ActionChangeMode, Target: dir, Value: chmodMode}
		if apply {
			if err := p.run(ctx, &action, "chmod", "--", chmodMode, dir); err != nil {
				return append(actions, action), err
			}
		}
		actions = append(actions, action)
	}

	return actions, nil
}

func (p *Provisioner) run(ctx context.Context, action *engine.Action, name string, args ...string) error {
	cmd := runner.Command{Name: name, Args: args, Sudo: p.sudo}
	p.logger.Info().Str("command", cmd.String()).Msg("provisioning storage directory")

	if _, err := runner.Output(ctx, p.runner, cmd); err != nil {
		action.State = engine.ActionStateFailed
		action.Error = err.Error()
		return engine.NewError(engine.ErrorKindCommand, string(action.Kind), err).WithTarget(action.Target)
	}
	action.State = engine.ActionStateApplied
	return nil
}

// groupDir joins filesystem and group, rejecting names that leave the filesystem.
func groupDir(filesystem, group string) (string, error) {
	if group == "" || group == "." || group == ".." || strings.ContainsAny(group, "/\x00") {
		return "", fmt.Errorf("invalid group name %q", group)
	}
	if !path.IsAbs(filesystem) {
		return "", fmt.Errorf("filesystem %q is not an absolute path", filesystem)
	}
	return path.Join(filesystem, group), nil
}
