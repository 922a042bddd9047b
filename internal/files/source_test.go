package files

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func write(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad(t *testing.T) {
	p := write(t, "notes.TXT", []byte("hello"))
	a, err := OSSource{}.Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if a.Name != "notes.TXT" || a.MimeType != "text/plain" || a.Size != 5 || string(a.Data) != "hello" {
		t.Errorf("Load = %+v", a)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		data []byte
		max  int64
		want error
	}{
		{"too large", "big.pdf", make([]byte, 11), 10, ErrFileTooLarge},
		{"executable", "run.exe", []byte("MZ\x90\x00"), 0, ErrUnsupportedType},
		{"html", "page.html", []byte("<html></html>"), 0, ErrUnsupportedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OSSource{MaxBytes: tt.max}.Load(write(t, tt.file, tt.data))
			if !errors.Is(err, tt.want) {
				t.Errorf("Load error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := (OSSource{}).Load(t.TempDir()); !errors.Is(err, ErrNotARegularFile) {
		t.Errorf("Load(dir) error = %v", err)
	}
	if _, err := (OSSource{}).Load(filepath.Join(t.TempDir(), "missing.png")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) error = %v", err)
	}
}

func TestDetectType(t *testing.T) {
	if got := DetectType("photo.JPG", nil); got != "image/jpeg" {
		t.Errorf("jpg = %q", got)
	}
	if got := DetectType("noext", []byte("%PDF-1.4 ...")); got != "application/pdf" {
		t.Errorf("sniffed pdf = %q", got)
	}
	if got := DetectType("noext", []byte("plain words")); got != "text/plain" {
		t.Errorf("sniffed text = %q", got)
	}
}
