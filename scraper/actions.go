package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
)

// scrollTimeout bounds the whole lazy-load pass.
const scrollTimeout = 10 * time.Second

// scrollPause lets lazy-loaded slots request their creatives between steps.
const scrollPause = 150 * time.Millisecond

// scrollForLazyAds scrolls down the page one viewport at a time, up to
// maxViewports, then returns to the top so the geometry snapshot is
// measured from the first screen.
func scrollForLazyAds(ctx context.Context, page *rod.Page, maxViewports int) error {
	if maxViewports <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, scrollTimeout)
	defer cancel()
	p := page.Context(ctx)

	res, err := p.Eval(`() => [window.innerHeight, document.documentElement.scrollHeight]`)
	if err != nil {
		return fmt.Errorf("read page height: %w", err)
	}
	dims := res.Value.Arr()
	if len(dims) != 2 {
		return nil
	}
	viewport, total := dims[0].Int(), dims[1].Int()
	if viewport <= 0 {
		return nil
	}

	steps := min(maxViewports, total/viewport)
	for i := 0; i < steps; i++ {
		if err := p.Mouse.Scroll(0, float64(viewport), 0); err != nil {
			return fmt.Errorf("scroll step %d failed: %w", i, err)
		}
		select {
		case <-time.After(scrollPause):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	_, err = p.Eval(`() => window.scrollTo(0, 0)`)
	return err
}
