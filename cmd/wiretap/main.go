// Command wiretap records raw webhook deliveries as JSON lines so they can
// be replayed as test fixtures.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

func main() {
	port := flag.Int("port", 3001, "Port to listen on")
	path := flag.String("path", "/webhook", "Path deliveries are posted to")
	outDir := flag.String("outdir", "testdata/captures", "Output directory for captures")
	sanitize := flag.String("sanitize", "", "Sanitize a capture file in-place (keeps .bak)")
	flag.Parse()

	if *sanitize != "" {
		if err := sanitizeFile(*sanitize); err != nil {
			fmt.Fprintf(os.Stderr, "sanitize error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("sanitized:", *sanitize)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := capture(ctx, *port, *path, *outDir); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func capture(ctx context.Context, port int, path, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	filename := filepath.Join(outDir, time.Now().Format("20060102-150405")+".jsonl")
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer f.Close()

	fmt.Printf("writing to %s\n", filename)

	mux := http.NewServeMux()
	mux.Handle("POST "+path, newRecorder(f))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("listening on http://localhost:%d%s (ctrl+c to stop)...\n", port, path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// recorder appends each delivery to w as one compact JSON line.
type recorder struct {
	mu sync.Mutex
	w  io.Writer
}

func newRecorder(w io.Writer) *recorder {
	return &recorder{w: w}
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	var line bytes.Buffer
	if err := json.Compact(&line, body); err != nil {
		// Keep unparseable deliveries; replay skips them.
		line.Reset()
		line.Write(bytes.ReplaceAll(body, []byte("\n"), []byte(" ")))
	}
	line.WriteByte('\n')

	rec.mu.Lock()
	_, err = rec.w.Write(line.Bytes())
	rec.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	fmt.Printf("%s %s (%d bytes)\n", id, deliveryType(body), len(body))
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"received":true}`))
}

func deliveryType(body []byte) string {
	var probe struct {
		Message struct {
			Type string `json:"type"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.Message.Type == "" {
		return "unknown"
	}
	return probe.Message.Type
}

var (
	ipPattern     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	phonePattern  = regexp.MustCompile(`"\+?1?\d{10}"`)
	secretPattern = regexp.MustCompile(`(?i)("(?:[a-z]*secret|[a-z]*token|apikey|authorization|password)"\s*:\s*)"[^"]*"`)
	urlPattern    = regexp.MustCompile(`(?i)("(?:listenurl|controlurl|recordingurl|stereorecordingurl)"\s*:\s*)"[^"]*"`)
)

func sanitizeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Create backup
	bakPath := path + ".bak"
	if err := os.WriteFile(bakPath, data, 0o644); err != nil {
		return fmt.Errorf("creating backup: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		lines[i] = sanitizeLine(line)
	}

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}

func sanitizeLine(line string) string {
	line = secretPattern.ReplaceAllString(line, `${1}"REDACTED"`)
	line = urlPattern.ReplaceAllString(line, `${1}"https://example.invalid/redacted"`)

	// Redact IPs (but preserve localhost)
	line = ipPattern.ReplaceAllStringFunc(line, func(ip string) string {
		if ip == "127.0.0.1" {
			return ip
		}
		return "10.0.0.1"
	})

	return phonePattern.ReplaceAllString(line, `"+15550001234"`)
}
