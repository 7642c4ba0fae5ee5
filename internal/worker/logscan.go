package worker

import (
	"io"
	"os"
	"strings"
)

// tailBytes is how much of the end of an attempt log the failure scan reads.
const tailBytes = 8 * 1024

// handshakeSignatures are log fragments indicating the agent could not reach
// or authenticate with its backend. An exit-zero attempt whose log ends with
// one of these is still treated as failed.
var handshakeSignatures = []string{
	"invalid api key",
	"authentication_error",
	"oauth token has expired",
	"credit balance is too low",
	"failed to connect to api",
}

// HandshakeFailed reports whether the tail of the attempt log matches a known
// backend-handshake failure. Unreadable logs report false.
func HandshakeFailed(logPath string) bool {
	f, err := os.Open(logPath)
	if err != nil {
		return false
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return false
	}
	if fi.Size() > tailBytes {
		if _, err := f.Seek(-tailBytes, io.SeekEnd); err != nil {
			return false
		}
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return false
	}

	tail := strings.ToLower(string(data))
	for _, sig := range handshakeSignatures {
		if strings.Contains(tail, sig) {
			return true
		}
	}
	return false
}
