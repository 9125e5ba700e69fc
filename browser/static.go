// browser/static.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var extractAttrs = []string{"href", "src", "alt", "title", "class", "id"}

// 静态抓取，不渲染 JS 的页面用它省掉浏览器开销
type StaticFetcher struct {
	client    *http.Client
	userAgent string
}

func NewStaticFetcher(timeout time.Duration, userAgent string) *StaticFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &StaticFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

func (f *StaticFetcher) Extract(ctx context.Context, url string, selectors []string) (*ExtractResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}

	result := &ExtractResult{
		Success:        true,
		Data:           make(map[string][]Element, len(selectors)),
		TotalSelectors: len(selectors),
	}
	for _, sel := range selectors {
		elements := make([]Element, 0)
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			el := Element{
				Text:       strings.TrimSpace(s.Text()),
				Tag:        goquery.NodeName(s),
				Attributes: make(map[string]string),
			}
			for _, attr := range extractAttrs {
				if v, ok := s.Attr(attr); ok && v != "" {
					el.Attributes[attr] = v
				}
			}
			elements = append(elements, el)
		})
		result.Data[sel] = elements
		result.SuccessfulExtractions++
	}
	return result, nil
}
