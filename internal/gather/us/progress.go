package us

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	noDataFile        = ".no-data"
	lastCompletedFile = ".last-completed"
)

// progressTracker remembers, per gather day, which symbols returned no bars
// and whether the whole day finished, so a crashed run resumes cheaply and a
// finished one is a no-op.
type progressTracker struct {
	mu     sync.Mutex
	noData map[string]struct{}
	writer *bufio.Writer
	file   *os.File
	dir    string
}

// newProgressTracker creates a tracker in dir and loads the existing
// no-data list.
func newProgressTracker(dir string) (*progressTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating progress dir: %w", err)
	}
	pt := &progressTracker{noData: make(map[string]struct{}), dir: dir}

	if data, err := os.ReadFile(pt.path(noDataFile)); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if sym := strings.TrimSpace(line); sym != "" {
				pt.noData[sym] = struct{}{}
			}
		}
	}
	if err := pt.open(); err != nil {
		return nil, err
	}
	return pt, nil
}

func (p *progressTracker) path(name string) string { return filepath.Join(p.dir, name) }

func (p *progressTracker) open() error {
	f, err := os.OpenFile(p.path(noDataFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", noDataFile, err)
	}
	p.file = f
	p.writer = bufio.NewWriter(f)
	return nil
}

// HasNoData reports whether symbol already came back empty today.
func (p *progressTracker) HasNoData(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.noData[symbol]
	return ok
}

// MarkNoData records symbols that returned no bars.
func (p *progressTracker) MarkNoData(symbols ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, sym := range symbols {
		if _, ok := p.noData[sym]; ok {
			continue
		}
		p.noData[sym] = struct{}{}
		if _, err := p.writer.WriteString(sym + "\n"); err != nil {
			return fmt.Errorf("writing %s: %w", noDataFile, err)
		}
	}
	return p.writer.Flush()
}

// MarkCompleted records date as fully gathered.
func (p *progressTracker) MarkCompleted(date string) error {
	return os.WriteFile(p.path(lastCompletedFile), []byte(date), 0o644)
}

// LastCompleted returns the last fully gathered date, or "".
func (p *progressTracker) LastCompleted() string {
	data, err := os.ReadFile(p.path(lastCompletedFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// IsCompleted reports whether date was fully gathered.
func (p *progressTracker) IsCompleted(date string) bool {
	return p.LastCompleted() == date
}

// Reset forgets the no-data list; a new gather day may list new symbols.
func (p *progressTracker) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file != nil {
		p.file.Close()
	}
	p.noData = make(map[string]struct{})
	if err := os.Remove(p.path(noDataFile)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return p.open()
}

// Close flushes and closes the no-data file.
func (p *progressTracker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != nil {
		p.writer.Flush()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}
