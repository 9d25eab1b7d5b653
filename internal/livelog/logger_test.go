package livelog

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestErrorKeepsKeyForErrorValues(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	Log.Error("delivery failed", "conn", "abc", "error", errors.New("queue full"))

	out := buf.String()
	if !strings.Contains(out, "error=") || !strings.Contains(out, "queue full") {
		t.Fatalf("error attribute missing from output: %q", out)
	}
	if !strings.Contains(out, "conn=abc") {
		t.Fatalf("conn attribute missing from output: %q", out)
	}
}

func TestSetVerbose(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetVerbose(false)
		SetOutput(os.Stderr)
	})

	Log.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug output written at info level: %q", buf.String())
	}

	SetVerbose(true)
	Log.Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("debug output missing at debug level: %q", buf.String())
	}
}

func TestInitWritesToFile(t *testing.T) {
	path := t.TempDir() + "/live.log"
	if err := Init(path); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Log.Info("hello file")
	if err := Log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Fatalf("log file missing message: %q", data)
	}
}
