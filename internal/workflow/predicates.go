package workflow

import (
	"context"
	"strconv"
	"time"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

// textLocator matches elements whose normalised text is exactly s.
func textLocator(s string) string {
	return "text=" + strconv.Quote(s)
}

// rowLocator matches listing rows containing s.
func rowLocator(s string) string {
	return "tr:has-text(" + strconv.Quote(s) + ")"
}

// landmarkPresent reports whether text shows up on the page within timeout.
// Provisioning succeeds only when this holds. The error is non-nil only when
// ctx ends.
func landmarkPresent(ctx context.Context, page schemas.Page, text string, timeout time.Duration) (bool, error) {
	if err := page.WaitForSelector(ctx, textLocator(text), timeout); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return true, nil
}

// landmarkAbsent reports whether text is gone from the page within timeout,
// polling every poll. Deprovisioning succeeds only when this holds. A failed
// query counts as the text still being present. The error is non-nil only
// when ctx ends.
func landmarkAbsent(ctx context.Context, page schemas.Page, text string, timeout, poll time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		handles, err := page.QueryAll(ctx, textLocator(text))
		if err == nil && len(handles) == 0 {
			return true, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		if err := settle(ctx, min(poll, remaining)); err != nil {
			return false, err
		}
	}
}
