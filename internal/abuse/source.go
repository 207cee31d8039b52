package abuse

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mailplane/mailplane/internal/command"
)

// Source yields recent log lines from one external log backend. Sources are
// lossy by design: a skipped or partial read is recovered on the next tick
// because event hashing absorbs repeats.
type Source interface {
	Name() string
	Collect(ctx context.Context) ([]string, error)
}

// FileSource tails the last N lines of a (rotating) log file. Rotation needs
// no special handling: the tail of the fresh file is re-read next tick.
type FileSource struct {
	path     string
	maxLines int
}

func NewFileSource(path string, maxLines int) *FileSource {
	if maxLines <= 0 {
		maxLines = 5000
	}
	return &FileSource{path: path, maxLines: maxLines}
}

var _ Source = (*FileSource)(nil)

func (s *FileSource) Name() string { return "file:" + s.path }

func (s *FileSource) Collect(ctx context.Context) ([]string, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil // not rotated in yet; nothing to read
	}
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", s.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	// Ring buffer of the last maxLines lines.
	ring := make([]string, s.maxLines)
	total := 0
	for scanner.Scan() {
		ring[total%s.maxLines] = scanner.Text()
		total++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log %s: %w", s.path, err)
	}

	n := total
	if n > s.maxLines {
		n = s.maxLines
	}
	lines := make([]string, 0, n)
	for i := total - n; i < total; i++ {
		lines = append(lines, ring[i%s.maxLines])
	}
	return lines, nil
}

// JournalSource queries the system journal for a unit over a recent window
// through the injected command runner.
type JournalSource struct {
	runner  command.Runner
	unit    string
	since   time.Duration
	timeout time.Duration
}

func NewJournalSource(runner command.Runner, unit string, since, timeout time.Duration) *JournalSource {
	if since <= 0 {
		since = 5 * time.Minute
	}
	return &JournalSource{runner: runner, unit: unit, since: since, timeout: timeout}
}

var _ Source = (*JournalSource)(nil)

func (s *JournalSource) Name() string { return "journal:" + s.unit }

func (s *JournalSource) Collect(ctx context.Context) ([]string, error) {
	cmd := fmt.Sprintf("journalctl -u %s --since '-%d seconds' --no-pager --output short-iso",
		s.unit, int(s.since.Seconds()))

	res, err := s.runner.Run(ctx, cmd, s.timeout)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("journal query exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	var lines []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}
