package tail

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func waitForLines(t *testing.T, got func() []string, want []string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if reflect.DeepEqual(got(), want) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("lines = %v, want %v after %s", got(), want, timeout)
}

func appendFile(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open for append failed: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(data); err != nil {
		t.Fatalf("append failed: %v", err)
	}
}

func newTestTailer(t *testing.T, path string) (*Tailer, func() []string) {
	t.Helper()
	tl := NewTailer(path)
	tl.SetPollInterval(20 * time.Millisecond)

	ch := make(chan string, 64)
	tl.Subscribe(func(line string) { ch <- line })
	t.Cleanup(tl.Stop)

	snapshot := func() []string {
		var out []string
		for {
			select {
			case l := <-ch:
				out = append(out, l)
			default:
				return out
			}
		}
	}
	// Accumulate across calls.
	var acc []string
	return tl, func() []string {
		acc = append(acc, snapshot()...)
		return acc
	}
}

func TestTailerFromEndEmitsOnlyNewLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	appendFile(t, path, "old line 1\nold line 2\n")

	tl, lines := newTestTailer(t, path)
	if err := tl.Start(true); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	appendFile(t, path, "hello\n")
	waitForLines(t, lines, []string{"hello"}, 3*time.Second)
}

func TestTailerFromStartReadsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	appendFile(t, path, "first\nsecond\n")

	tl, lines := newTestTailer(t, path)
	if err := tl.Start(false); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitForLines(t, lines, []string{"first", "second"}, 3*time.Second)
}

func TestTailerRetainsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	appendFile(t, path, "")

	tl, lines := newTestTailer(t, path)
	if err := tl.Start(true); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	appendFile(t, path, "partial")
	time.Sleep(100 * time.Millisecond)
	if got := lines(); len(got) != 0 {
		t.Fatalf("lines = %v, want none before newline", got)
	}

	appendFile(t, path, " rest\n")
	waitForLines(t, lines, []string{"partial rest"}, 3*time.Second)
}

func TestTailerHandlesTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	appendFile(t, path, "aaaa\nbbbb\ncccc\n")

	tl, lines := newTestTailer(t, path)
	if err := tl.Start(true); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	appendFile(t, path, "dddd\n")
	waitForLines(t, lines, []string{"dddd"}, 3*time.Second)

	// Truncate and rewrite shorter content; the cursor must reset to the
	// start and read everything new.
	if err := os.WriteFile(path, []byte("eeee\n"), 0644); err != nil {
		t.Fatalf("truncate failed: %v", err)
	}
	waitForLines(t, lines, []string{"dddd", "eeee"}, 3*time.Second)
}

func TestTailerWaitsForFileCreation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")

	tl, lines := newTestTailer(t, path)
	// Starting against a missing file is not an error.
	if err := tl.Start(true); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	appendFile(t, path, "born\n")
	waitForLines(t, lines, []string{"born"}, 3*time.Second)
}

func TestTailerStripsCarriageReturns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	appendFile(t, path, "")

	tl, lines := newTestTailer(t, path)
	if err := tl.Start(true); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	appendFile(t, path, "windows line\r\n")
	waitForLines(t, lines, []string{"windows line"}, 3*time.Second)
}

func TestTailerStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	tl := NewTailer(path)
	if err := tl.Start(true); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	tl.Stop()
	tl.Stop()
	if tl.IsRunning() {
		t.Error("IsRunning = true after Stop")
	}
}

func TestReadLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	appendFile(t, path, "l1\nl2\nl3\nl4\nl5\n")

	tests := []struct {
		name string
		n    int
		want []string
	}{
		{"last two", 2, []string{"l4", "l5"}},
		{"more than available", 10, []string{"l1", "l2", "l3", "l4", "l5"}},
		{"zero", 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadLastLines(path, tt.n)
			if err != nil {
				t.Fatalf("ReadLastLines failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ReadLastLines(%d) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}
}

func TestReadLastLinesMissingFile(t *testing.T) {
	if _, err := ReadLastLines(filepath.Join(t.TempDir(), "nope.log"), 5); err == nil {
		t.Error("expected an error for a missing file")
	}
}
