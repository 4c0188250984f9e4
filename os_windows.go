//go:build windows

package vcal

// NewLine defines the default newline for Windows systems.  It resolves to
// WithNewLineWindows which uses CRLF line endings.
const (
	NewLine = WithNewLineWindows
)
