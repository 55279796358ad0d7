// Package quota drives the site quota tool and prepares group storage directories.
//
// Tool wraps the squota command: `squota -f <fs> -A -P` reports usage and quota per
// project as pipe-delimited text, `squota -f <fs> -u <group> -q <gb>` sets a quota.
// A Cache in front of the Tool keeps one snapshot per filesystem for a run.
//
// Provisioner ensures <fs>/<group> exists, is owned by the group and has mode 2770.
// It stats through a FileSystem (LocalFS, or SFTP on a remote storage host) and
// changes the directory with sudo through a runner.Runner.
package quota
