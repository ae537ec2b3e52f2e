// Package tail implements a polling file-tail engine. It tolerates files
// that do not exist yet, are rotated, or are truncated, and is instantiated
// independently for the game server's own log and for the BepInEx framework
// log.
package tail

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultPollInterval is the period between size checks.
const DefaultPollInterval = 500 * time.Millisecond

// lastLinesChunkSize is the backward-read chunk used by ReadLastLines.
const lastLinesChunkSize = 16 * 1024

// LineFunc receives each complete line as it is appended to the file.
// Handlers run synchronously on the tailer's poll task and must not call
// back into the Tailer.
type LineFunc func(line string)

// Token identifies a line subscription.
type Token uint64

// Tailer polls one file for appended data and emits complete lines to its
// subscribers. The subscriber set persists across Stop/Start cycles; the
// cursor does not.
type Tailer struct {
	mu   sync.Mutex
	path string

	interval time.Duration
	file     *os.File
	offset   int64
	partial  string
	running  bool

	// gen invalidates poll timers armed before the most recent Stop.
	gen   uint64
	timer *time.Timer

	nextTok Token
	subs    map[Token]LineFunc

	logger zerolog.Logger
}

// NewTailer creates a tailer for the given path with the default poll
// interval. No I/O happens until Start.
func NewTailer(path string) *Tailer {
	return &Tailer{
		path:     path,
		interval: DefaultPollInterval,
		nextTok:  1,
		subs:     make(map[Token]LineFunc),
		logger:   log.With().Str("component", "tail").Str("file", path).Logger(),
	}
}

// SetPollInterval overrides the poll period. Only effective before Start.
func (t *Tailer) SetPollInterval(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d > 0 {
		t.interval = d
	}
}

// Subscribe registers a line handler and returns its token.
func (t *Tailer) Subscribe(fn LineFunc) Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	tok := t.nextTok
	t.nextTok++
	t.subs[tok] = fn
	return tok
}

// Unsubscribe removes a line handler. Unknown tokens are ignored.
func (t *Tailer) Unsubscribe(tok Token) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, tok)
}

// Start begins polling. With fromEnd the cursor starts at the current
// end-of-file so only subsequently appended lines are emitted; otherwise it
// starts at offset 0. A file that does not exist yet is not an error: the
// tailer keeps polling and picks it up once created.
func (t *Tailer) Start(fromEnd bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return nil
	}

	t.offset = 0
	t.partial = ""

	f, err := os.Open(t.path)
	if err == nil {
		t.file = f
		if fromEnd {
			if info, serr := f.Stat(); serr == nil {
				t.offset = info.Size()
			}
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	t.running = true
	t.scheduleLocked()
	t.logger.Debug().Bool("from_end", fromEnd).Msg("tailer started")
	return nil
}

// Stop cancels polling and closes the handle. Idempotent; safe to call
// mid-poll. Subscribers are retained for a later Start.
func (t *Tailer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return
	}
	t.running = false
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
	t.partial = ""
	t.logger.Debug().Msg("tailer stopped")
}

// IsRunning reports whether the tailer is polling.
func (t *Tailer) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Offset returns the current cursor position, for observability.
func (t *Tailer) Offset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

// scheduleLocked arms the next poll. The timer re-arms only after the
// current tick completes, so polls never overlap. Caller holds t.mu.
func (t *Tailer) scheduleLocked() {
	gen := t.gen
	t.timer = time.AfterFunc(t.interval, func() {
		lines := t.poll(gen)
		for _, line := range lines {
			t.emit(line)
		}
		t.mu.Lock()
		if t.running && t.gen == gen {
			t.scheduleLocked()
		}
		t.mu.Unlock()
	})
}

// poll performs one tick: open the file if needed, detect truncation or
// rotation by a size shrink, read the appended delta, and split it into
// complete lines. The trailing partial line is retained for the next poll.
func (t *Tailer) poll(gen uint64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running || t.gen != gen {
		return nil
	}

	if t.file == nil {
		f, err := os.Open(t.path)
		if err != nil {
			return nil
		}
		t.file = f
		t.offset = 0
		t.partial = ""
	}

	info, err := t.file.Stat()
	if err != nil {
		t.selfHealLocked(err)
		return nil
	}

	size := info.Size()
	if size < t.offset {
		// Rotation or truncation: re-read from the start.
		t.logger.Debug().
			Int64("size", size).
			Int64("offset", t.offset).
			Msg("file shrank, resetting cursor")
		t.offset = 0
		t.partial = ""
	}
	if size == t.offset {
		return nil
	}

	delta := make([]byte, size-t.offset)
	n, err := t.file.ReadAt(delta, t.offset)
	if err != nil && n == 0 {
		t.selfHealLocked(err)
		return nil
	}
	t.offset += int64(n)

	data := t.partial + string(delta[:n])
	parts := strings.Split(data, "\n")
	t.partial = parts[len(parts)-1]

	lines := make([]string, 0, len(parts)-1)
	for _, line := range parts[:len(parts)-1] {
		lines = append(lines, strings.TrimRight(line, "\r"))
	}
	return lines
}

// selfHealLocked drops the broken handle so the next poll re-opens the
// file, recovering from deletion or rotation under the tailer.
func (t *Tailer) selfHealLocked(err error) {
	t.logger.Debug().Err(err).Msg("read error, reopening on next poll")
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}

func (t *Tailer) emit(line string) {
	t.mu.Lock()
	subs := make([]LineFunc, 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	for _, fn := range subs {
		fn(line)
	}
}

// ReadLastLines returns the last n lines of the file without disturbing the
// live cursor: it opens the file fresh and reads backward in fixed-size
// chunks until enough lines are accumulated or start-of-file is reached.
func (t *Tailer) ReadLastLines(n int) ([]string, error) {
	return ReadLastLines(t.path, n)
}

// ReadLastLines reads the last n lines of an arbitrary file.
func ReadLastLines(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var (
		buf []byte
		pos = info.Size()
	)
	for pos > 0 && countLines(buf) <= n {
		chunk := int64(lastLinesChunkSize)
		if pos < chunk {
			chunk = pos
		}
		pos -= chunk

		part := make([]byte, chunk)
		if _, err := f.ReadAt(part, pos); err != nil {
			return nil, err
		}
		buf = append(part, buf...)
	}

	text := strings.TrimRight(string(buf), "\n")
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

func countLines(buf []byte) int {
	count := 0
	for _, b := range buf {
		if b == '\n' {
			count++
		}
	}
	return count
}
