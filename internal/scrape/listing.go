// Package scrape turns the portal's semi-structured HTML into canonical
// job records. Parsing is defensive throughout: a malformed row is counted
// and skipped, never fatal.
package scrape

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"postulamatic-engine/internal/cfemail"
	"postulamatic-engine/internal/domain"
)

// ParseBoardPage extracts one RawListing per table row. A row qualifies
// when it carries an emphasized title and a detail link matching
// detailPattern; everything else is counted in skipped.
func ParseBoardPage(html, pageURL, detailPattern string) (listings []domain.RawListing, skipped int, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, 0, err
	}

	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		title := CleanText(row.Find("strong").First().Text())
		if title == "" || len(title) < 3 {
			// header/spacer rows are not listings, only count rows that
			// at least tried to be one
			if row.Find("a[href]").Length() > 0 && CleanText(row.Text()) != "" {
				skipped++
			}
			return
		}

		detailURL := ""
		row.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			href = strings.TrimSpace(href)
			if href == "" || strings.HasPrefix(href, "/cdn-cgi/") {
				return true
			}
			abs := ResolveURL(pageURL, href)
			if detailPattern == "" || strings.Contains(strings.ToLower(abs), strings.ToLower(detailPattern)) {
				detailURL = abs
				return false
			}
			return true
		})
		if detailURL == "" {
			skipped++
			return
		}

		summary := CleanText(row.Find("small").First().Text())

		raw, _ := goquery.OuterHtml(row)
		listings = append(listings, domain.RawListing{
			Title:     title,
			Summary:   summary,
			DetailURL: detailURL,
			RawHTML:   raw,
		})
	})

	return listings, skipped, nil
}

// ParseDetail pulls title, summary and contact emails out of a detail page.
// Zero decodable emails is not a parse failure; the posting just cannot be
// dispatched to.
func ParseDetail(html string) (domain.Detail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return domain.Detail{}, err
	}

	d := domain.Detail{RawHTML: html}

	if t := CleanText(doc.Find("h1").First().Text()); t != "" {
		d.Title = t
	} else {
		d.Title = CleanText(doc.Find("strong").First().Text())
	}

	if s := CleanText(doc.Find("small").First().Text()); s != "" {
		d.Summary = s
	} else {
		d.Summary = CleanText(doc.Find("p").First().Text())
	}

	d.Emails = ExtractEmails(doc)
	return d, nil
}

// ExtractEmails collects recipients from a parsed fragment: obfuscated
// anchors are located by their data-cfemail marker and decoded; plain
// mailto links are taken as-is. Undecodable tokens are dropped, not fatal.
func ExtractEmails(doc *goquery.Document) []string {
	var out []string

	doc.Find("a[data-cfemail]").Each(func(_ int, a *goquery.Selection) {
		token, _ := a.Attr("data-cfemail")
		addr, err := cfemail.Decode(token)
		if err != nil || !cfemail.LooksLikeEmail(addr) {
			return
		}
		out = append(out, addr)
	})

	doc.Find(`a[href^="mailto:"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if cfemail.LooksLikeEmail(addr) {
			out = append(out, addr)
		}
	})

	return uniqStrings(out)
}

// Normalize folds a board row and its detail page into the canonical
// posting. Detail fields win over the board row when both exist.
func Normalize(listing domain.RawListing, detail domain.Detail) domain.JobPosting {
	title := detail.Title
	if title == "" {
		title = listing.Title
	}
	summary := detail.Summary
	if summary == "" {
		summary = listing.Summary
	}

	return domain.JobPosting{
		ExternalID: ExternalID(listing.DetailURL),
		Title:      title,
		Summary:    summary,
		Emails:     detail.Emails,
		SourceURL:  CanonicalizeURL(listing.DetailURL),
		RawHTML:    detail.RawHTML,
	}
}
