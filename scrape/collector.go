package scrape

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gosom/scrapemate"
)

// Collector is a scrapemate.ResultWriter keeping rendered pages in memory.
type Collector struct {
	mu    sync.Mutex
	pages map[string]*Page
}

func NewCollector() *Collector {
	return &Collector{
		pages: make(map[string]*Page),
	}
}

func (c *Collector) Run(_ context.Context, in <-chan scrapemate.Result) error {
	for result := range in {
		page, ok := result.Data.(*Page)
		if !ok {
			continue
		}

		c.mu.Lock()
		c.pages[page.JobID] = page
		c.mu.Unlock()

		slog.Debug("captured page", slog.String("url", page.URL), slog.Int("status", page.StatusCode))
	}

	return nil
}

func (c *Collector) Page(jobID string) (*Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	page, ok := c.pages[jobID]

	return page, ok
}

func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pages)
}
