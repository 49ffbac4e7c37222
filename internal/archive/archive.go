// ABOUTME: Write-once filesystem archive of generated research reports
// ABOUTME: Saves atomically under deterministic names and serves them back by name

package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrNotFound is returned when a report name does not resolve to a file.
	ErrNotFound = errors.New("report not found")

	// ErrExists is returned when a report with the same name was already saved.
	ErrExists = errors.New("report already exists")
)

const (
	nameTimeLayout   = "20060102_150405.000"
	headerTimeLayout = "2006-01-02 15:04:05"
	headerSeparator  = "\n\n---\n\n"
)

var (
	validName   = regexp.MustCompile(`^report_[A-Za-z0-9._-]+\.md$`)
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)
)

// Report is a saved report split into its header fields and body.
type Report struct {
	Name   string
	ChatID string
	Query  string
	Date   string
	Body   string
}

// Archive stores reports as markdown files in a single directory.
type Archive struct {
	dir    string
	logger *slog.Logger
	flight singleflight.Group
}

// New creates the archive directory if needed. Pass nil logger for default.
func New(dir string, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating report directory: %w", err)
	}
	return &Archive{
		dir:    dir,
		logger: logger.With("component", "archive"),
	}, nil
}

// Dir returns the archive directory.
func (a *Archive) Dir() string {
	return a.dir
}

// Name returns the deterministic file name for a chat's report saved at t.
// Characters outside [A-Za-z0-9_-] in the chat id are replaced with '_'.
func Name(chatID string, t time.Time) string {
	return fmt.Sprintf("report_%s_%s.md", unsafeChars.ReplaceAllString(chatID, "_"), t.Format(nameTimeLayout))
}

// Save writes a report and returns its name. The file appears atomically
// and is never overwritten: a second save under the same name fails with
// ErrExists.
func (a *Archive) Save(chatID string, at time.Time, query, body string) (string, error) {
	name := Name(chatID, at)
	final := filepath.Join(a.dir, name)

	tmp, err := os.CreateTemp(a.dir, ".report-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp report: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(render(chatID, at, query, body)); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("syncing report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing report: %w", err)
	}

	// Link fails if the target exists, unlike Rename.
	if err := os.Link(tmpPath, final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%s: %w", name, ErrExists)
		}
		return "", fmt.Errorf("publishing report: %w", err)
	}

	a.logger.Info("report saved", "name", name, "chat_id", chatID, "bytes", len(body))
	return name, nil
}

// Read returns the parsed report. The body is exactly what was passed to Save.
func (a *Archive) Read(name string) (*Report, error) {
	raw, err := a.Raw(name)
	if err != nil {
		return nil, err
	}
	r := parse(string(raw))
	r.Name = name
	return r, nil
}

// Raw returns the report file contents, header included. Concurrent reads
// of the same name share one filesystem read.
func (a *Archive) Raw(name string) ([]byte, error) {
	if !validName.MatchString(name) || filepath.Base(name) != name || strings.Contains(name, "..") {
		return nil, ErrNotFound
	}

	v, err, _ := a.flight.Do(name, func() (any, error) {
		data, err := os.ReadFile(filepath.Join(a.dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("reading report: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}

	shared := v.([]byte)
	out := make([]byte, len(shared))
	copy(out, shared)
	return out, nil
}

func render(chatID string, at time.Time, query, body string) string {
	var b strings.Builder
	b.WriteString("# Research Report\n\n")
	b.WriteString("**Query**: " + singleLine(query) + "\n\n")
	b.WriteString("**Date**: " + at.Format(headerTimeLayout) + "\n\n")
	b.WriteString("**Chat ID**: " + singleLine(chatID))
	b.WriteString(headerSeparator)
	b.WriteString(body)
	return b.String()
}

// singleLine keeps header values from spanning lines so the separator can
// only appear once before the body.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func parse(content string) *Report {
	header, body, found := strings.Cut(content, headerSeparator)
	if !found {
		return &Report{Body: content}
	}

	r := &Report{Body: body}
	for _, line := range strings.Split(header, "\n") {
		switch {
		case strings.HasPrefix(line, "**Query**: "):
			r.Query = strings.TrimPrefix(line, "**Query**: ")
		case strings.HasPrefix(line, "**Date**: "):
			r.Date = strings.TrimPrefix(line, "**Date**: ")
		case strings.HasPrefix(line, "**Chat ID**: "):
			r.ChatID = strings.TrimPrefix(line, "**Chat ID**: ")
		}
	}
	return r
}
