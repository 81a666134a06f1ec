//go:build !unix

package messagestore

import (
	"hash/fnv"
	"os"
)

// messageID falls back to a hash of the absolute path on platforms with
// no inode concept. Message-store portability to non-Unix filesystems is
// not a goal; this keeps the package buildable there without claiming
// the same identity stability Unix gets from inodes.
func messageID(path string) (int64, error) {
	abs, err := filepathAbs(path)
	if err != nil {
		return 0, err
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(abs))
	return int64(h.Sum64()), nil
}

func filepathAbs(path string) (string, error) {
	if len(path) > 0 && path[0] == '/' {
		return path, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return path, nil
	}
	return wd + "/" + path, nil
}
