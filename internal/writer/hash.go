package writer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/SteelMorgan/dspace-editlog/internal/domain"
)

// calculateLineHash identifies one physical line of one file.
// Two identical lines at different offsets hash differently.
func calculateLineHash(id domain.FileIdentity, offset int64, line string) string {
	h := sha256.New()

	fmt.Fprintf(h, "%d:", id.Device)
	fmt.Fprintf(h, "%d:", id.Inode)
	fmt.Fprintf(h, "%d:", offset)
	h.Write([]byte(line))

	return hex.EncodeToString(h.Sum(nil))
}
