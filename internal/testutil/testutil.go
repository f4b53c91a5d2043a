package testutil

import (
	"bytes"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Random string for unique prefixes
func RandString(n int) string {
	letters := []rune("abcdefghijklmnopqrstuvwxyz0123456789")
	b := make([]rune, n)
	for i := range b {
		b[i] = letters[rand.IntN(len(letters))]
	}
	return string(b)
}

// Utility: Wait for a condition or timeout
func WaitFor(t *testing.T, cond func() bool, timeout time.Duration, tick time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(tick)
	}
	t.Fatalf("WaitFor timeout: %s", msg)
}

// NewTestLogger returns a job logger that discards output unless verbose
// test logging (-v) is requested.
func NewTestLogger(t *testing.T) *log.Logger {
	if testing.Verbose() {
		return log.New(os.Stderr, "["+t.Name()+"] ", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

// WriteFile writes content under dir, creating parent directories, and
// returns the full path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(p), err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

// WriteCloserBuffer is a bytes.Buffer that records whether it was closed.
type WriteCloserBuffer struct {
	bytes.Buffer
	Closed bool
}

func (w *WriteCloserBuffer) Close() error {
	w.Closed = true
	return nil
}
