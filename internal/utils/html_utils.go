package utils

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PolishImages adds loading and referrer attributes to every <img> in a
// rendered fragment.
func PolishImages(fragment string) string {
	if fragment == "" || !strings.Contains(fragment, "<img") {
		return fragment
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}

	doc.Find("img").Each(func(i int, s *goquery.Selection) {
		s.SetAttr("referrerpolicy", "no-referrer")
		s.SetAttr("loading", "lazy")
		s.SetAttr("decoding", "async")
		if _, ok := s.Attr("alt"); !ok {
			s.SetAttr("alt", "")
		}
	})

	// goquery wraps fragments in html/body; only the body content is wanted
	out, err := doc.Find("body").Html()
	if err != nil || out == "" {
		return fragment
	}
	return out
}
