package framelog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/evdash/telemetryd/internal/can"
)

func testLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frames.log")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordLineFormat(t *testing.T) {
	l := testLog(t)
	l.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	fr, _ := can.NewFrame(0x110, []byte{0x00, 0x00, 0x80, 0x3F})
	if err := l.Record(RX, fr); err != nil {
		t.Fatalf("Record: %v", err)
	}
	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "2025-06-01T12:00:00Z RX 110 [4] 00 00 80 3F\n"
	if string(data) != want {
		t.Fatalf("log line = %q, want %q", data, want)
	}
}

func TestRecordAppendsInOrder(t *testing.T) {
	l := testLog(t)
	for i := 0; i < 5; i++ {
		fr, _ := can.NewFrame(uint16(0x120+i), []byte{byte(i)})
		if err := l.Record(RX, fr); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}
	fr, _ := can.NewFrame(0x7A0, make([]byte, 8))
	if err := l.Record(TX, fr); err != nil {
		t.Fatalf("Record TX: %v", err)
	}

	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 6 {
		t.Fatalf("got %d lines, want 6", len(lines))
	}
	for i := 0; i < 5; i++ {
		if !strings.Contains(lines[i], "RX") {
			t.Fatalf("line %d not RX: %q", i, lines[i])
		}
	}
	if !strings.Contains(lines[5], "TX 7A0") {
		t.Fatalf("last line not the TX record: %q", lines[5])
	}
}

func TestSizeTracksWrites(t *testing.T) {
	l := testLog(t)
	before, err := l.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if before != 0 {
		t.Fatalf("new log size = %d, want 0", before)
	}
	fr, _ := can.NewFrame(0x110, make([]byte, 8))
	if err := l.Record(RX, fr); err != nil {
		t.Fatalf("Record: %v", err)
	}
	after, err := l.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	data, _ := os.ReadFile(l.Path())
	if after != uint64(len(data)) {
		t.Fatalf("Size = %d, file has %d bytes", after, len(data))
	}
}

func TestOpenCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "frames.log")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open with missing parents: %v", err)
	}
	defer l.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("log file not created: %v", err)
	}
}
