//go:build !windows

package offset

import (
	"fmt"
	"os"

	"github.com/SteelMorgan/dspace-editlog/internal/domain"
	"golang.org/x/sys/unix"
)

// statIdentity returns the device/inode pair and size of an open file
func statIdentity(f *os.File) (domain.FileIdentity, int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return domain.FileIdentity{}, 0, fmt.Errorf("fstat %s: %w", f.Name(), err)
	}

	return domain.FileIdentity{
		Device: uint64(st.Dev),
		Inode:  uint64(st.Ino),
	}, st.Size, nil
}
