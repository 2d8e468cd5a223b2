package pty

import (
	"errors"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/unicode"
)

// RelayBufferSize is the largest chunk handed to an OutputFunc.
const RelayBufferSize = 8 * 1024

// OutputFunc receives output chunks for a session. It is called from the
// session's relay goroutine, one chunk at a time and in read order.
type OutputFunc func(id, data string)

func discardOutput(string, string) {}

// relay copies r to sink until r reports end of stream or fails.
func relay(id string, r io.Reader, sink OutputFunc, logger *logrus.Logger) {
	log := logger.WithField("session", id)
	buf := make([]byte, RelayBufferSize)
	for {
		n, err := r.Read(buf)
		// Bytes that arrive together with an error were produced by the shell
		// and are delivered before the error ends the relay. Device reads
		// never return both, so this only matters for wrapped readers.
		if n > 0 {
			sink(id, decodeChunk(buf[:n]))
		}
		switch {
		case err == nil && n == 0:
			log.Debug("relay stopped: end of stream")
			return
		case errors.Is(err, io.EOF):
			log.Debug("relay stopped: end of stream")
			return
		case err != nil:
			log.WithError(err).Debug("relay stopped: read failed")
			return
		}
	}
}

// decodeChunk turns raw terminal bytes into text, replacing invalid UTF-8
// with U+FFFD. Runes split across chunks are not reassembled.
func decodeChunk(b []byte) string {
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "\uFFFD")
	}
	return string(out)
}
