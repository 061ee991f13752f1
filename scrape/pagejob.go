// Package scrape renders pages in a headless browser through scrapemate and
// hands the resulting DOM back to synchronous callers.
package scrape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/gosom/scrapemate"
	"github.com/playwright-community/playwright-go"
)

var ErrEmptyPage = errors.New("page returned no content")

// Page is the rendered result of a PageJob.
type Page struct {
	JobID      string
	URL        string
	StatusCode int
	Body       []byte
}

func (p *Page) Document() (*goquery.Document, error) {
	if len(p.Body) == 0 {
		return nil, ErrEmptyPage
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
	if err != nil {
		return nil, fmt.Errorf("error parsing page: %w", err)
	}

	return doc, nil
}

type PageJobOptions func(*PageJob)

// PageJob loads a URL in the browser and optionally waits for a selector to
// appear before capturing the DOM.
type PageJob struct {
	scrapemate.Job

	WaitSelector string
}

func NewPageJob(u string, opts ...PageJobOptions) *PageJob {
	const (
		defaultPrio       = scrapemate.PriorityHigh
		defaultMaxRetries = 2
	)

	job := PageJob{
		Job: scrapemate.Job{
			ID:         uuid.New().String(),
			Method:     http.MethodGet,
			URL:        u,
			MaxRetries: defaultMaxRetries,
			Priority:   defaultPrio,
		},
	}

	for _, opt := range opts {
		opt(&job)
	}

	return &job
}

func WithWaitSelector(selector string) PageJobOptions {
	return func(j *PageJob) {
		j.WaitSelector = selector
	}
}

func (j *PageJob) Process(_ context.Context, resp *scrapemate.Response) (any, []scrapemate.IJob, error) {
	defer func() {
		resp.Document = nil
		resp.Body = nil
		resp.Meta = nil
	}()

	if resp.Error != nil {
		return nil, nil, resp.Error
	}

	if len(resp.Body) == 0 {
		return nil, nil, ErrEmptyPage
	}

	return &Page{
		JobID:      j.ID,
		URL:        resp.URL,
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
	}, nil, nil
}

func (j *PageJob) BrowserActions(_ context.Context, page playwright.Page) scrapemate.Response {
	var resp scrapemate.Response

	pageResponse, err := page.Goto(j.GetURL(), playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		resp.Error = err
		return resp
	}

	const defaultTimeout = 5000

	if j.WaitSelector != "" {
		// a missing selector still leaves a usable DOM, e.g. an empty result list
		_ = page.Locator(j.WaitSelector).First().WaitFor(playwright.LocatorWaitForOptions{
			Timeout: playwright.Float(defaultTimeout),
		})
	}

	content, err := page.Content()
	if err != nil {
		resp.Error = err
		return resp
	}

	resp.URL = pageResponse.URL()
	resp.StatusCode = pageResponse.Status()
	resp.Headers = make(http.Header, len(pageResponse.Headers()))

	for k, v := range pageResponse.Headers() {
		resp.Headers.Add(k, v)
	}

	resp.Body = []byte(content)

	return resp
}
