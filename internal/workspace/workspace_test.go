package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tmp := t.TempDir()

	ws, err := New(tmp, "demo-team")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !strings.HasPrefix(filepath.Base(ws.Root), "pi-demo-team-") {
		t.Errorf("Root = %q, want pi-demo-team-* under %q", ws.Root, tmp)
	}
	if _, err := os.Stat(ws.TasksDir()); err != nil {
		t.Errorf("tasks dir not created: %v", err)
	}
	if _, err := os.Stat(ws.ArtifactsDir()); err != nil {
		t.Errorf("artifacts dir not created: %v", err)
	}
	if ws.RunID == "" {
		t.Error("expected a non-empty RunID")
	}
}

func TestNewDefaultsParentToTempDir(t *testing.T) {
	ws, err := New("", "sweep")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ws.Teardown()

	if !strings.HasPrefix(ws.Root, os.TempDir()) {
		t.Errorf("Root = %q, want under %q", ws.Root, os.TempDir())
	}
}

func TestWriteTaskResult(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(tmp, "team")
	if err != nil {
		t.Fatal(err)
	}

	if err := ws.WriteTaskResult("design/doc", "looks good", "completed"); err != nil {
		t.Fatalf("WriteTaskResult: %v", err)
	}

	path := filepath.Join(ws.TasksDir(), "design_doc.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading result file: %v", err)
	}

	var rec taskResultFile
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("unmarshaling result file: %v", err)
	}
	if rec.ID != "design/doc" || rec.Status != "completed" || rec.Output != "looks good" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestWriteTaskResultOverwrites(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(tmp, "team")
	if err != nil {
		t.Fatal(err)
	}

	if err := ws.WriteTaskResult("a", "first", "completed"); err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteTaskResult("a", "second", "failed"); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(ws.TasksDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d task result files, want 1", len(entries))
	}
}

func TestTeardown(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(tmp, "team")
	if err != nil {
		t.Fatal(err)
	}

	ws.Teardown()

	if _, err := os.Stat(ws.Root); !os.IsNotExist(err) {
		t.Errorf("workspace root still exists after Teardown: %v", err)
	}
}

func TestTeardownIdempotent(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(tmp, "team")
	if err != nil {
		t.Fatal(err)
	}

	ws.Teardown()
	ws.Teardown() // second call must not panic or error visibly
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"normal", "normal"},
		{"a/b", "a_b"},
		{"a\\b", "a_b"},
		{"../etc/passwd", "__etc_passwd"},
		{"", "_"},
	}
	for _, tc := range tests {
		got := sanitizeName(tc.input)
		if got != tc.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
