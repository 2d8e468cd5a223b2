package api

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// subscriberBuffer is the number of chunks an attached client may lag behind
// before it is disconnected.
const subscriberBuffer = 256

// hub fans one session's output out to attached clients and its transcript.
type hub struct {
	id     string
	logger *logrus.Logger

	mu         sync.Mutex
	subs       map[chan string]struct{}
	lagging    map[<-chan string]struct{}
	transcript *os.File
	// created is set when this hub made the transcript file.
	created bool
	closed  bool
}

var idSanitizer = strings.NewReplacer("/", "_", "\\", "_", ":", "_")

func transcriptPath(dir, id string) string {
	return filepath.Join(dir, idSanitizer.Replace(id)+".log")
}

// newHub creates a hub. An empty dir disables the transcript.
func newHub(id, dir string, logger *logrus.Logger) (*hub, error) {
	h := &hub{
		id:      id,
		logger:  logger,
		subs:    make(map[chan string]struct{}),
		lagging: make(map[<-chan string]struct{}),
	}
	if dir == "" {
		return h, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	path := transcriptPath(dir, id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err == nil {
		h.created = true
	} else if errors.Is(err, os.ErrExist) {
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	h.transcript = f
	return h, nil
}

// publish is the session's output sink.
func (h *hub) publish(_ string, data string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	if h.transcript != nil {
		if _, err := h.transcript.WriteString(data); err != nil {
			h.logger.WithError(err).WithField("session", h.id).Warn("transcript write failed")
			h.transcript.Close()
			h.transcript = nil
		}
	}

	for ch := range h.subs {
		select {
		case ch <- data:
		default:
			h.logger.WithField("session", h.id).Warn("attached client too slow, detaching")
			delete(h.subs, ch)
			h.lagging[ch] = struct{}{}
			close(ch)
		}
	}
}

// subscribe returns a channel of output chunks and a function that detaches
// it. The channel is closed when the session ends.
func (h *hub) subscribe() (<-chan string, func()) {
	ch := make(chan string, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.lagging, ch)
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// lagged reports whether ch was closed because its reader fell behind, as
// opposed to the session ending.
func (h *hub) lagged(ch <-chan string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.lagging[ch]
	return ok
}

func (h *hub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// discard closes a hub whose session never started and removes the
// transcript file if this hub created it.
func (h *hub) discard() {
	h.mu.Lock()
	path := ""
	if h.transcript != nil && h.created {
		path = h.transcript.Name()
	}
	h.mu.Unlock()

	h.close()
	if path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.logger.WithError(err).WithField("session", h.id).Warn("failed to remove transcript")
		}
	}
}

// close detaches every client and closes the transcript.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true

	for ch := range h.subs {
		close(ch)
	}
	h.subs = nil
	if h.transcript != nil {
		h.transcript.Close()
		h.transcript = nil
	}
}
