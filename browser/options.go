// browser/options.go
package browser

import (
	"time"

	"github.com/chromedp/chromedp"
)

type Options struct {
	Headless  bool
	Timeout   time.Duration
	UserAgent string
	ExecPath  string
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func DefaultOptions() Options {
	return Options{
		Headless:  true,
		Timeout:   30 * time.Second,
		UserAgent: defaultUserAgent,
	}
}

func (o Options) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.UserAgent(o.userAgent()),
	}
	if o.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	return opts
}

func (o Options) userAgent() string {
	if o.UserAgent == "" {
		return defaultUserAgent
	}
	return o.UserAgent
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 30 * time.Second
	}
	return o.Timeout
}
