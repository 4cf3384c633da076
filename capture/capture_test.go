package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// shEngine returns an Engine whose "binary" is a shell script. The script
// sees the expanded arguments as $1.. and the output path in $OUT.
func shEngine(t *testing.T, script string, opts ...EngineOption) *Engine {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	e, err := NewEngine([]string{"/bin/sh", "-c", script, "engine",
		"--html-file", PlaceholderHTML,
		"--width", PlaceholderWidth,
		"--height", PlaceholderHeight,
		"--dump-frame", PlaceholderOutput,
	}, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func request(t *testing.T) Request {
	dir := t.TempDir()
	return Request{
		CaseID:     "about",
		HTMLPath:   filepath.Join(dir, "index.html"),
		Width:      2,
		Height:     1,
		OutputPath: filepath.Join(dir, "frame.ppm"),
	}
}

func TestNewEngine_Validation(t *testing.T) {
	if _, err := NewEngine(nil); err == nil {
		t.Error("empty argv accepted")
	}
	if _, err := NewEngine([]string{"engine", "--html-file", PlaceholderHTML}); err == nil {
		t.Error("argv without {output} accepted")
	}
}

func TestEngine_Success(t *testing.T) {
	// $8 is the --dump-frame value; width/height arrive as $4/$6.
	e := shEngine(t, `printf 'P6\n%s %s\n255\n' "$4" "$6" > "$8" && printf 'abcdef' >> "$8"`)
	req := request(t)
	if err := e.Capture(context.Background(), req); err != nil {
		t.Fatalf("capture: %v", err)
	}
	data, err := os.ReadFile(req.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "P6\n2 1\n255\nabcdef" {
		t.Errorf("output: %q", data)
	}
	if _, err := os.Stat(req.OutputPath + ".partial"); !os.IsNotExist(err) {
		t.Error("partial file left behind")
	}
}

func TestEngine_FailureLeavesNoOutput(t *testing.T) {
	// WHAT: A crashing engine yields an error carrying truncated stderr and
	// no output file, even if it had started writing.
	e := shEngine(t, `printf 'P6\n2 1' > "$8"; for i in $(seq 1 100); do printf 'boom ' >&2; done; exit 3`)
	req := request(t)
	err := e.Capture(context.Background(), req)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "exit 3") {
		t.Errorf("error lacks exit code: %v", err)
	}
	if idx := strings.Index(err.Error(), "boom"); idx < 0 || len(err.Error())-idx > MaxStderr {
		t.Errorf("stderr not truncated to %d: %d bytes", MaxStderr, len(err.Error())-idx)
	}
	if _, err := os.Stat(req.OutputPath); !os.IsNotExist(err) {
		t.Error("output exists after failed capture")
	}
	if _, err := os.Stat(req.OutputPath + ".partial"); !os.IsNotExist(err) {
		t.Error("partial file left behind")
	}
}

func TestEngine_NoOutput(t *testing.T) {
	e := shEngine(t, `exit 0`)
	err := e.Capture(context.Background(), request(t))
	if !errors.Is(err, ErrNoOutput) {
		t.Fatalf("got %v, want ErrNoOutput", err)
	}
}

func TestEngine_Budget(t *testing.T) {
	e := shEngine(t, `exec sleep 10`)
	req := request(t)
	req.Budget = 100 * time.Millisecond
	start := time.Now()
	err := e.Capture(context.Background(), req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("budget not enforced")
	}
}

func TestEngine_OracleArgs(t *testing.T) {
	e := shEngine(t, `printf 'x' > "$8"; [ "$9" = "--dump-layout" ] && printf '{}' > "${10}"`)
	req := request(t)
	req.OraclePath = filepath.Join(filepath.Dir(req.OutputPath), "layout.json")
	if err := e.Capture(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if data, err := os.ReadFile(req.OraclePath); err != nil || string(data) != "{}" {
		t.Fatalf("oracle: %q, %v", data, err)
	}

	plain := request(t)
	if got := e.expand(plain, "out"); len(got) != len(e.argv) {
		t.Errorf("oracle args appended without OraclePath: %v", got)
	}
}

func TestCheck(t *testing.T) {
	req := request(t)
	if err := Check(req); !errors.Is(err, ErrNoOutput) {
		t.Fatalf("got %v, want ErrNoOutput", err)
	}
	if err := os.WriteFile(req.OutputPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Check(req); err != nil {
		t.Fatal(err)
	}
}

func TestWriteFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "golden.png")
	if err := writeFile(target, []byte("png")); err != nil {
		t.Fatal(err)
	}
	if data, _ := os.ReadFile(target); string(data) != "png" {
		t.Errorf("got %q", data)
	}
	if err := writeFile(filepath.Join(t.TempDir(), "missing", "x.png"), []byte("png")); err == nil {
		t.Error("write into missing dir succeeded")
	}
}
