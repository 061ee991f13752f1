package bodacc

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Tpgainz/companyatlas/backend"
	"github.com/Tpgainz/companyatlas/scrape"
)

// scrapeDirectors reads the officers listed on a Pappers company page. It
// returns nothing when no browser is available.
func (b *Bodacc) scrapeDirectors(ctx context.Context, pappersURL string) []string {
	if b.renderer == nil {
		return []string{}
	}

	if _, isBrowser := b.renderer.(*scrape.BrowserRenderer); isBrowser {
		if !backend.CheckPackage(scrape.PackageName) {
			b.Logger().Debug("skipping directors scraping, no browser available")
			return []string{}
		}
	}

	doc, err := b.renderer.Render(ctx, pappersURL)
	if err != nil {
		b.Logger().Warn("Failed to execute pappers scraping job", "url", pappersURL, "error", err)
		return []string{}
	}

	directors := ExtractDirectors(doc)

	b.Logger().Debug("Captured directors", "directors", directors)

	return directors
}

func ExtractDirectors(doc *goquery.Document) []string {
	directors := []string{}

	doc.Find("td.info-dirigeant a.underline").Each(func(_ int, s *goquery.Selection) {
		directorName := strings.TrimSpace(s.Text())
		if directorName != "" {
			directors = append(directors, directorName)
		}
	})

	return directors
}
