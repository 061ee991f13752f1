package entreprise

import (
	"errors"
	"regexp"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mcnijman/go-emailaddress"
)

var (
	EmailRegex       = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9\-]+(\.[a-z0-9\-]+)*\.[a-z]{2,}`)
	ExcludedDomains  = []string{"sentry", "example", "wix", "societe.com"}
	ExcludedSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"}
)

// emailSet keeps the first occurrence of each valid address.
type emailSet struct {
	seen   map[string]bool
	emails []string
}

func (s *emailSet) add(value string) {
	email, err := getValidEmail(value)
	if err != nil {
		return
	}

	key := strings.ToLower(email)
	if s.seen == nil {
		s.seen = map[string]bool{}
	}

	if s.seen[key] {
		return
	}

	s.seen[key] = true
	s.emails = append(s.emails, email)
}

// ExtractEmails returns the valid addresses linked by mailto anchors in doc
// or appearing in body, in order of first appearance.
func ExtractEmails(doc *goquery.Document, body []byte) []string {
	var set emailSet

	if doc != nil {
		doc.Find("a[href^='mailto:']").Each(func(_ int, s *goquery.Selection) {
			mailto, ok := s.Attr("href")
			if !ok {
				return
			}

			value := strings.TrimPrefix(mailto, "mailto:")
			if i := strings.IndexByte(value, '?'); i >= 0 {
				value = value[:i]
			}

			set.add(value)
		})
	}

	for _, text := range findEmails(body) {
		set.add(text)
	}

	return set.emails
}

func findEmails(body []byte) []string {
	var found []string

	for _, address := range emailaddress.Find(body, false) {
		found = append(found, address.String())
	}

	found = append(found, EmailRegex.FindAllString(string(body), -1)...)

	return found
}

func getValidEmail(s string) (string, error) {
	email, err := emailaddress.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", err
	}

	emailStr := email.String()
	lowerEmailStr := strings.ToLower(emailStr)

	if containsExcludedDomain(lowerEmailStr) {
		return "", errors.New("email contains excluded domain")
	}

	if containsExcludedSuffix(lowerEmailStr, strings.ToLower(s)) {
		return "", errors.New("email contains excluded suffix")
	}

	return emailStr, nil
}

func containsExcludedDomain(email string) bool {
	_, domain, _ := strings.Cut(email, "@")

	return slices.ContainsFunc(ExcludedDomains, func(excluded string) bool {
		return strings.Contains(domain, excluded)
	})
}

func containsExcludedSuffix(values ...string) bool {
	for _, value := range values {
		for _, suffix := range ExcludedSuffixes {
			if strings.HasSuffix(value, suffix) {
				return true
			}
		}
	}

	return false
}
