package downloader

import (
	"sync"
	"time"
)

// Status is the transfer state of one URL.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Progress is a snapshot of one transfer.
type Progress struct {
	URL             string    `json:"url"`
	Status          Status    `json:"status"`
	BytesDownloaded int64     `json:"bytes_downloaded"`
	TotalBytes      int64     `json:"total_bytes"`
	Attempts        int       `json:"attempts"`
	LastError       string    `json:"last_error,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// progressMap is the per-instance transfer table.
type progressMap struct {
	mu      sync.Mutex
	entries map[string]*Progress
}

func newProgressMap() *progressMap {
	return &progressMap{entries: make(map[string]*Progress)}
}

func (p *progressMap) update(url string, fn func(*Progress)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[url]
	if !ok {
		e = &Progress{URL: url, Status: StatusPending}
		p.entries[url] = e
	}
	fn(e)
	e.UpdatedAt = time.Now()
}

func (p *progressMap) get(url string) (Progress, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[url]
	if !ok {
		return Progress{}, false
	}
	return *e, true
}

func (p *progressMap) all() map[string]Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Progress, len(p.entries))
	for k, v := range p.entries {
		out[k] = *v
	}
	return out
}

func (p *progressMap) clear() {
	p.mu.Lock()
	p.entries = make(map[string]*Progress)
	p.mu.Unlock()
}

func (p *progressMap) attempt(url string, n int) {
	p.update(url, func(e *Progress) {
		e.Status = StatusDownloading
		e.Attempts = n
	})
}

func (p *progressMap) setBytes(url string, done, total int64) {
	p.update(url, func(e *Progress) {
		e.BytesDownloaded = done
		if total > 0 {
			e.TotalBytes = total
		}
	})
}

func (p *progressMap) add(url string, n int64) {
	p.update(url, func(e *Progress) { e.BytesDownloaded += n })
}

func (p *progressMap) finish(url string, err error) {
	p.update(url, func(e *Progress) {
		if err != nil {
			e.Status = StatusFailed
			e.LastError = err.Error()
			return
		}
		e.Status = StatusCompleted
		e.LastError = ""
		if e.TotalBytes < e.BytesDownloaded {
			e.TotalBytes = e.BytesDownloaded
		}
	})
}
