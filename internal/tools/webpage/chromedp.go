package webpage

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/arman-khosravi/tabletalk/internal/toolerr"
)

// renderFetcher drives a headless browser for script-heavy pages, then runs
// the same readability extraction as the plain fetcher.
type renderFetcher struct {
	cfg Config
}

func (f *renderFetcher) Fetch(ctx context.Context, pageURL string) (Page, error) {
	if err := validateURL(pageURL); err != nil {
		return Page{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	t0 := time.Now()

	html, err := renderHTML(ctx, pageURL, f.cfg.UserAgent)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Page{}, fmt.Errorf("render %s: %w", pageURL, toolerr.ErrTimeout)
		}
		return Page{}, fmt.Errorf("render %s: %v: %w", pageURL, err, toolerr.ErrFetch)
	}
	if int64(len(html)) > f.cfg.MaxBytes {
		return Page{}, fmt.Errorf("page exceeds %d bytes: %w", f.cfg.MaxBytes, toolerr.ErrTooLarge)
	}

	return extract(pageURL, html, f.cfg.MaxChars, int(time.Since(t0)/time.Millisecond))
}

func renderHTML(ctx context.Context, pageURL, userAgent string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(userAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
