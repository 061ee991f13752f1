package scrape

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gosom/scrapemate"
	"github.com/gosom/scrapemate/scrapemateapp"
)

// Renderer returns the DOM of a page once its scripts have run.
type Renderer interface {
	Render(ctx context.Context, u string) (*goquery.Document, error)
}

var _ Renderer = (*BrowserRenderer)(nil)

// BrowserRenderer renders one URL per call in a fresh scrapemate app.
type BrowserRenderer struct {
	Timeout          time.Duration
	ExitOnInactivity time.Duration
	WaitSelector     string
}

func NewBrowserRenderer() *BrowserRenderer {
	return &BrowserRenderer{
		Timeout:          60 * time.Second,
		ExitOnInactivity: 30 * time.Second,
	}
}

func (r *BrowserRenderer) Render(ctx context.Context, u string) (*goquery.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	collector := NewCollector()

	app, err := r.createScrapemateApp(collector)
	if err != nil {
		return nil, fmt.Errorf("failed to create scrapemate app: %w", err)
	}
	defer app.Close()

	var opts []PageJobOptions
	if r.WaitSelector != "" {
		opts = append(opts, WithWaitSelector(r.WaitSelector))
	}

	job := NewPageJob(u, opts...)

	startErr := app.Start(ctx, job)

	page, ok := collector.Page(job.ID)
	if !ok {
		if startErr != nil && !errors.Is(startErr, context.Canceled) {
			return nil, fmt.Errorf("failed to render %s: %w", u, startErr)
		}

		return nil, fmt.Errorf("failed to render %s: %w", u, ErrEmptyPage)
	}

	return page.Document()
}

func (r *BrowserRenderer) createScrapemateApp(writer scrapemate.ResultWriter) (*scrapemateapp.ScrapemateApp, error) {
	opts := []func(*scrapemateapp.Config) error{
		scrapemateapp.WithConcurrency(1),
		scrapemateapp.WithExitOnInactivity(r.ExitOnInactivity),
		scrapemateapp.WithJS(scrapemateapp.DisableImages()),
	}

	writers := []scrapemate.ResultWriter{writer}

	cfg, err := scrapemateapp.NewConfig(writers, opts...)
	if err != nil {
		return nil, err
	}

	return scrapemateapp.NewScrapeMateApp(cfg)
}
