package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/use-agent/picketline/models"
)

// RenderFunc renders a page in a real browser. It is injected from main so
// engine does not import the browser pool.
type RenderFunc func(ctx context.Context, req *FetchRequest) (*FetchResult, error)

// BrowserEngine fetches pages through a headless browser and returns the
// rendered HTML with its geometry snapshot.
type BrowserEngine struct {
	render RenderFunc
}

// NewBrowserEngine creates a BrowserEngine around render.
func NewBrowserEngine(render RenderFunc) *BrowserEngine {
	return &BrowserEngine{render: render}
}

func (e *BrowserEngine) Name() string { return ModeBrowser }

func (e *BrowserEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if e.render == nil {
		return nil, models.NewPicketError(models.ErrCodeFetchFailed, "browser rendering is not configured", nil)
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	result, err := e.render(ctx, req)
	if err != nil {
		var pe *models.PicketError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", e.Name(), err)
	}
	result.EngineName = e.Name()
	return result, nil
}

// categorizeError wraps transport errors into PicketErrors so the API layer
// can map them to HTTP statuses.
func categorizeError(err error, msg string) *models.PicketError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewPicketError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewPicketError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewPicketError(models.ErrCodeFetchFailed, msg, err)
	}
}
