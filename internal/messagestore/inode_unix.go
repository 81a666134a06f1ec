//go:build unix

package messagestore

import (
	"os"
	"syscall"
)

// messageID derives a message identifier from the file backing it. The
// inode number works well enough as a stand-in primary key as long as
// the store directory isn't copied onto a different filesystem — a
// known limitation carried over from the original implementation, which
// uses the same trick pending a move to transactional storage.
func messageID(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, errNoInode
	}
	return int64(stat.Ino), nil
}
