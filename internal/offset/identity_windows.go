//go:build windows

package offset

import (
	"fmt"
	"os"

	"github.com/SteelMorgan/dspace-editlog/internal/domain"
	"golang.org/x/sys/windows"
)

// statIdentity uses the volume serial number and file index, which survive a rename
// on the same volume the way device/inode do
func statIdentity(f *os.File) (domain.FileIdentity, int64, error) {
	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(windows.Handle(f.Fd()), &info); err != nil {
		return domain.FileIdentity{}, 0, fmt.Errorf("GetFileInformationByHandle %s: %w", f.Name(), err)
	}

	return domain.FileIdentity{
		Device: uint64(info.VolumeSerialNumber),
		Inode:  uint64(info.FileIndexHigh)<<32 | uint64(info.FileIndexLow),
	}, int64(info.FileSizeHigh)<<32 | int64(info.FileSizeLow), nil
}
