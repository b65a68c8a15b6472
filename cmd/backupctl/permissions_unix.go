//go:build !windows

package main

import (
	"fmt"
	"io/fs"
	"os"
	"syscall"

	"github.com/saworbit/snapvault/pkg/backuperr"
)

// ensureReadable checks path's POSIX owner/group/other permission bits
// against the user running backupctl, so preflightReadable can reject an
// unreadable file before a backup starts ingesting the files ahead of it
// in the walk, rather than failing mid-transaction on an os.Open.
func ensureReadable(path string, info fs.FileInfo) error {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}

	perms := info.Mode().Perm()
	euid, egid := os.Geteuid(), os.Getegid()

	if int(stat.Uid) == euid {
		return requireReadBit(path, perms, 0400, "owner")
	}
	if belongsToGroup(int(stat.Gid), egid) {
		return requireReadBit(path, perms, 0040, "group")
	}
	return requireReadBit(path, perms, 0004, "others")
}

func belongsToGroup(fileGID, egid int) bool {
	if fileGID == egid {
		return true
	}
	groups, err := syscall.Getgroups()
	if err != nil {
		return false
	}
	for _, g := range groups {
		if int(g) == fileGID {
			return true
		}
	}
	return false
}

func requireReadBit(path string, perms fs.FileMode, bit fs.FileMode, who string) error {
	if perms&bit == 0 {
		return fmt.Errorf("%w: %s has no read bit on %s", backuperr.ErrPermissionDenied, who, path)
	}
	return nil
}
