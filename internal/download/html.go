package download

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

const maxPageBytes = 4 * 1024 * 1024 // 4 MB cap on scraped HTML pages

// extractVideoURL fetches an HTML page and returns the first direct video
// link found in it, resolved against the page URL.
func (d *HTTPDownloader) extractVideoURL(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", &Error{URL: pageURL, StatusCode: -1, Reason: err.Error()}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", &Error{URL: pageURL, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &Error{URL: pageURL, StatusCode: resp.StatusCode, Reason: http.StatusText(resp.StatusCode)}
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", &Error{URL: pageURL, StatusCode: resp.StatusCode, Reason: "parse page: " + err.Error()}
	}

	link := FindVideoLink(doc)
	if link == "" {
		// No video on the page is a property of the input, not of the network.
		return "", &Error{URL: pageURL, StatusCode: http.StatusNotFound, Reason: "no video link found in page"}
	}

	return resolveRef(pageURL, link), nil
}

// FindVideoLink walks a parsed HTML document looking for a direct video
// reference: <video src>, a <source src> inside a video element, or an
// og:video meta tag. Exported for testing.
func FindVideoLink(doc *html.Node) string {
	var walk func(n *html.Node) string
	walk = func(n *html.Node) string {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "video":
				if src := attr(n, "src"); src != "" {
					return src
				}
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					if c.Type == html.ElementNode && c.Data == "source" {
						if src := attr(c, "src"); src != "" {
							return src
						}
					}
				}
			case "meta":
				prop := attr(n, "property")
				if prop == "og:video" || prop == "og:video:url" || prop == "og:video:secure_url" {
					if content := attr(n, "content"); content != "" {
						return content
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if found := walk(c); found != "" {
				return found
			}
		}
		return ""
	}
	return walk(doc)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func resolveRef(pageURL, ref string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
