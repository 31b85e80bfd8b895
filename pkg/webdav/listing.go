package webdav

import (
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// listingEntry is one <response> of a multistatus body.
type listingEntry struct {
	href         string
	collection   bool
	lastModified time.Time
	size         int64
}

// listingParser turns a multistatus body into entries.
type listingParser struct {
	name  string
	parse func([]byte) ([]listingEntry, error)
}

func defaultParsers() []listingParser {
	return []listingParser{
		{name: "xml", parse: parseXMLListing},
		{name: "regex", parse: parseRegexListing},
	}
}

// parseListing runs the parsers in order; the first success wins.
func parseListing(parsers []listingParser, body []byte) ([]listingEntry, error) {
	var errs []error
	for _, p := range parsers {
		entries, err := p.parse(body)
		if err == nil {
			return entries, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
	}
	return nil, errors.Join(errs...)
}

// Element names carry no namespace so they match any prefix.
type multistatus struct {
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href      string        `xml:"href"`
	Propstats []davPropstat `xml:"propstat"`
}

type davPropstat struct {
	Prop   davProp `xml:"prop"`
	Status string  `xml:"status"`
}

type davProp struct {
	ResourceType  davResourceType `xml:"resourcetype"`
	LastModified  string          `xml:"getlastmodified"`
	ContentLength string          `xml:"getcontentlength"`
}

type davResourceType struct {
	Collection *struct{} `xml:"collection"`
}

func parseXMLListing(body []byte) ([]listingEntry, error) {
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, err
	}
	entries := make([]listingEntry, 0, len(ms.Responses))
	for _, r := range ms.Responses {
		if strings.TrimSpace(r.Href) == "" {
			continue
		}
		e := listingEntry{href: strings.TrimSpace(r.Href)}
		for _, ps := range r.Propstats {
			if ps.Status != "" && !strings.Contains(ps.Status, " 200") {
				continue
			}
			if ps.Prop.ResourceType.Collection != nil {
				e.collection = true
			}
			if ps.Prop.LastModified != "" {
				e.lastModified = parseHTTPTime(ps.Prop.LastModified)
			}
			if ps.Prop.ContentLength != "" {
				e.size, _ = strconv.ParseInt(strings.TrimSpace(ps.Prop.ContentLength), 10, 64)
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

const prefixPat = `(?:[A-Za-z][\w.-]*:)?`

var (
	responseRe     = regexp.MustCompile(`(?is)<` + prefixPat + `response(?:\s[^>]*)?>(.*?)</` + prefixPat + `response\s*>`)
	hrefRe         = regexp.MustCompile(`(?is)<` + prefixPat + `href(?:\s[^>]*)?>(.*?)</` + prefixPat + `href\s*>`)
	collectionRe   = regexp.MustCompile(`(?is)<` + prefixPat + `collection\b`)
	lastModifiedRe = regexp.MustCompile(`(?is)<` + prefixPat + `getlastmodified(?:\s[^>]*)?>(.*?)</` + prefixPat + `getlastmodified\s*>`)
	lengthRe       = regexp.MustCompile(`(?is)<` + prefixPat + `getcontentlength(?:\s[^>]*)?>(.*?)</` + prefixPat + `getcontentlength\s*>`)
	multistatusRe  = regexp.MustCompile(`(?i)<` + prefixPat + `multistatus\b`)
)

func parseRegexListing(body []byte) ([]listingEntry, error) {
	text := string(body)
	blocks := responseRe.FindAllStringSubmatch(text, -1)
	if len(blocks) == 0 {
		if multistatusRe.MatchString(text) {
			return []listingEntry{}, nil
		}
		return nil, errors.New("no multistatus response found")
	}
	entries := make([]listingEntry, 0, len(blocks))
	for _, block := range blocks {
		inner := block[1]
		m := hrefRe.FindStringSubmatch(inner)
		if m == nil {
			continue
		}
		e := listingEntry{
			href:       html.UnescapeString(strings.TrimSpace(m[1])),
			collection: collectionRe.MatchString(inner),
		}
		if lm := lastModifiedRe.FindStringSubmatch(inner); lm != nil {
			e.lastModified = parseHTTPTime(html.UnescapeString(lm[1]))
		}
		if l := lengthRe.FindStringSubmatch(inner); l != nil {
			e.size, _ = strconv.ParseInt(strings.TrimSpace(l[1]), 10, 64)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseHTTPTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if t, err := http.ParseTime(raw); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
