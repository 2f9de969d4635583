package session

import (
	"context"
	"errors"

	"github.com/JakeFAU/chapterharvest/internal/harvest"
)

// classify maps a driver error to the harvest taxonomy: caller cancellation
// wins over everything else, anything left is a transport error.
func classify(ctx context.Context, op, url string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return harvest.Cancelled(ctxErr)
	}
	if errors.Is(err, harvest.ErrCancelled) {
		return err
	}
	return &harvest.TransportError{Op: op, URL: url, Err: err}
}
