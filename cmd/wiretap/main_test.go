package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeLine(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "customer number",
			in:   `{"customer":{"number":"+16175550100"}}`,
			want: `{"customer":{"number":"+15550001234"}}`,
		},
		{
			name: "secrets",
			in:   `{"server":{"secret":"s3cr3t"},"apiKey":"k","authToken":"t"}`,
			want: `{"server":{"secret":"REDACTED"},"apiKey":"REDACTED","authToken":"REDACTED"}`,
		},
		{
			name: "monitor urls",
			in:   `{"monitor":{"listenUrl":"wss://host/abc/listen"}}`,
			want: `{"monitor":{"listenUrl":"https://example.invalid/redacted"}}`,
		},
		{
			name: "ip but not localhost",
			in:   `{"a":"192.168.1.20","b":"127.0.0.1"}`,
			want: `{"a":"10.0.0.1","b":"127.0.0.1"}`,
		},
		{
			name: "ids untouched",
			in:   `{"assistantId":"bb3b91d8-1685-4903-a124-305420959429","timestamp":1760540400000}`,
			want: `{"assistantId":"bb3b91d8-1685-4903-a124-305420959429","timestamp":1760540400000}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeLine(tt.in); got != tt.want {
				t.Errorf("got  %s\nwant %s", got, tt.want)
			}
		})
	}
}

func TestSanitizeFileKeepsBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	orig := `{"customer":{"number":"+16175550100"}}` + "\n"
	if err := os.WriteFile(path, []byte(orig), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := sanitizeFile(path); err != nil {
		t.Fatalf("sanitizeFile: %v", err)
	}

	bak, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("reading backup: %v", err)
	}
	if string(bak) != orig {
		t.Errorf("backup = %q", bak)
	}
	got, _ := os.ReadFile(path)
	if strings.Contains(string(got), "6175550100") {
		t.Errorf("number not redacted: %s", got)
	}
}

func TestRecorderWritesOneLinePerDelivery(t *testing.T) {
	var out bytes.Buffer
	rec := newRecorder(&out)

	for _, body := range []string{
		"{\n  \"message\": {\"type\": \"call-started\"}\n}",
		"not json\nat all",
	} {
		w := httptest.NewRecorder()
		rec.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
	}

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), out.String())
	}
	if lines[0] != `{"message":{"type":"call-started"}}` {
		t.Errorf("line 0 = %s", lines[0])
	}
	if lines[1] != "not json at all" {
		t.Errorf("line 1 = %s", lines[1])
	}
}

func TestDeliveryType(t *testing.T) {
	if got := deliveryType([]byte(`{"message":{"type":"transcript"}}`)); got != "transcript" {
		t.Errorf("got %q", got)
	}
	if got := deliveryType([]byte(`nope`)); got != "unknown" {
		t.Errorf("got %q", got)
	}
}
