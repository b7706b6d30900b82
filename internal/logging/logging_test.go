package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"INFO":  zerolog.InfoLevel,
		"":      zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"trace": zerolog.TraceLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q)=%v,%v want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNew_ConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "acr.log")
	log, closer, err := New(Config{Level: "info", File: path, MaxSizeMB: 1, MaxBackups: 1, Console: &console})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug().Msg("hidden")
	log.Info().Str("cone", "BLUE").Msg("cone saved")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if strings.Contains(console.String(), "hidden") {
		t.Fatalf("debug line written at info level")
	}
	if !strings.Contains(console.String(), "cone saved") {
		t.Fatalf("console=%q", console.String())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(b), "cone=BLUE") {
		t.Fatalf("file=%q", b)
	}
}
