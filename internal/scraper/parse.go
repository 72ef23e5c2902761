package scraper

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonidaniel/jobsai/internal/job"
)

var jobHref = regexp.MustCompile(`/jobs?/`)

// normalizeText collapses whitespace runs into single spaces.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func selectText(card *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return normalizeText(card.Find(selector).First().Text())
}

// selectAttrOrText prefers attr on the first match and falls back to its text.
func selectAttrOrText(card *goquery.Selection, selector, attr string) string {
	if selector == "" {
		return ""
	}
	node := card.Find(selector).First()
	if node.Length() == 0 {
		return ""
	}
	if v, ok := node.Attr(attr); ok {
		return strings.TrimSpace(v)
	}
	return normalizeText(node.Text())
}

// cardHref finds the listing link: the URL selector, then any job-looking
// anchor in the card, then the title link.
func cardHref(card *goquery.Selection, board BoardConfig) string {
	if board.URLSelector != "" {
		if href, ok := card.Find(board.URLSelector).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
			return href
		}
	}
	var found string
	card.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if jobHref.MatchString(href) {
			found = href
			return false
		}
		return true
	})
	if found != "" {
		return found
	}
	title := card.Find(board.TitleSelector).First()
	if href, ok := title.Attr("href"); ok {
		return href
	}
	href, _ := title.Find("a[href]").First().Attr("href")
	return href
}

// parseCard extracts one listing. Missing fields become empty strings.
func parseCard(card *goquery.Selection, board BoardConfig, query string) job.Listing {
	return job.Listing{
		Title:              selectText(card, board.TitleSelector),
		Company:            selectAttrOrText(card, board.CompanySelector, "data-company"),
		Location:           selectText(card, board.LocationSelector),
		URL:                board.Resolve(cardHref(card, board)),
		DescriptionSnippet: selectText(card, board.SnippetSelector),
		PublishedDate:      selectAttrOrText(card, board.PublishedDateSelector, "datetime"),
		QueryUsed:          query,
		Source:             board.Name,
	}
}

// extractDescription tries the board's detail selectors in priority order and
// then, if enabled, the largest text block on the page.
func extractDescription(doc *goquery.Document, board BoardConfig) string {
	for _, selector := range board.DetailSelectors {
		if text := normalizeText(doc.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	if board.FallbackLargestBlock {
		return largestTextBlock(doc)
	}
	return ""
}

// largestTextBlock picks the container whose direct paragraph children carry
// the most text.
func largestTextBlock(doc *goquery.Document) string {
	var best string
	doc.Find("article, main, section, div").Each(func(_ int, block *goquery.Selection) {
		parts := block.ChildrenFiltered("p").Map(func(_ int, p *goquery.Selection) string {
			return normalizeText(p.Text())
		})
		text := strings.TrimSpace(strings.Join(parts, " "))
		if len(text) > len(best) {
			best = text
		}
	})
	return best
}
