//go:build windows

package main

import "io/fs"

// ensureReadable is a no-op on Windows: ACL-based permission checks are
// not evaluated here.
func ensureReadable(_ string, _ fs.FileInfo) error {
	return nil
}
