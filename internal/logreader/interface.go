package logreader

// Line is one complete log line with its terminator stripped
type Line struct {
	Offset    int64  // Absolute byte offset of the first byte of the line
	Text      string
	Truncated bool   // Line exceeded MaxLineBytes; Text holds only its head
}

// MaxLineBytes caps how much of a single line is kept in memory
const MaxLineBytes = 1024 * 1024
