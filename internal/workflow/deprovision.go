package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

// DeprovisionUser deletes the listing row containing identifier. Success
// requires the identifier's text to be gone from the page afterwards.
func (e *Engine) DeprovisionUser(ctx context.Context, baseURL, identifier string) schemas.WorkflowResult {
	payload := &schemas.DeprovisionPayload{Identifier: identifier}
	result := e.run(ctx, schemas.WorkflowDeprovision, true, func(ctx context.Context, page schemas.Page, log *runLog) (bool, error) {
		return e.deprovision(ctx, page, log, baseURL, payload)
	})
	result.Deprovision = payload
	return result
}

func (e *Engine) deprovision(ctx context.Context, page schemas.Page, log *runLog, baseURL string, payload *schemas.DeprovisionPayload) (bool, error) {
	identifier := strings.TrimSpace(payload.Identifier)
	if identifier == "" {
		return false, fmt.Errorf("%w: identifier is empty", ErrInvalidInput)
	}
	if err := e.importSession(ctx, page, log); err != nil {
		return false, err
	}
	if err := e.navigate(ctx, page, joinURL(baseURL, e.portal.ListingPath), log); err != nil {
		return false, err
	}
	if err := page.WaitForSelector(ctx, e.portal.TableLocator, e.timeouts.Table); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.warnf("Listing table not observed (%v); looking for the row anyway", err)
	}

	if err := e.search(ctx, page, log, identifier); err != nil {
		return false, err
	}

	rows, err := page.QueryAll(ctx, rowLocator(identifier))
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.warnf("Row lookup failed: %v", err)
	}
	if len(rows) == 0 {
		return false, fmt.Errorf("%w: %s", ErrUserNotFound, identifier)
	}
	row := pickRow(ctx, rows, identifier)
	log.infof("Found the row for %q", identifier)

	controls, err := row.QueryAll(ctx, e.portal.DeleteLocator)
	if err != nil && ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil || len(controls) == 0 {
		return false, ErrDeleteUnavailable
	}
	if err := controls[0].Click(ctx); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("%w: %w", ErrDeleteUnavailable, err)
	}
	payload.Deleted = true
	log.infof("Delete control clicked")

	if err := page.WaitForSelector(ctx, e.portal.ConfirmLocator, e.timeouts.Confirm); err == nil {
		if err := page.Click(ctx, e.portal.ConfirmLocator); err != nil {
			log.warnf("Confirmation dialog could not be accepted: %v", err)
		} else {
			log.infof("Confirmation dialog accepted")
		}
	} else if ctx.Err() != nil {
		return false, ctx.Err()
	} else {
		log.infof("No confirmation dialog appeared")
	}

	if err := settle(ctx, e.timeouts.DeleteSettle); err != nil {
		return false, err
	}
	gone, err := landmarkAbsent(ctx, page, identifier, e.timeouts.VerifyAbsent, e.poll)
	if err != nil {
		return false, err
	}
	payload.Verified = gone
	if !gone {
		return false, fmt.Errorf("%w: %q is still listed after deletion", ErrNotVerified, identifier)
	}
	log.infof("Verified %q is no longer listed", identifier)
	return true, nil
}

// search filters the listing by identifier when the portal offers a search
// box. Its absence or failure is not an error.
func (e *Engine) search(ctx context.Context, page schemas.Page, log *runLog, identifier string) error {
	if e.portal.SearchLocator == "" {
		return nil
	}
	boxes, err := page.QueryAll(ctx, e.portal.SearchLocator)
	if err != nil || len(boxes) == 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.infof("No search control; scanning the full listing")
		return nil
	}
	if err := page.Fill(ctx, e.portal.SearchLocator, identifier); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.warnf("Search failed (%v); scanning the full listing", err)
		return nil
	}
	log.infof("Filtered the listing by %q", identifier)
	return settle(ctx, e.timeouts.SearchSettle)
}

// pickRow prefers the row with a cell equal to identifier, since
// tr:has-text also matches rows where it is only a substring ("User 1" in
// "User 10"). It falls back to the first row.
func pickRow(ctx context.Context, rows []schemas.ElementHandle, identifier string) schemas.ElementHandle {
	want := strings.ToLower(identifier)
	for _, row := range rows {
		text, err := row.InnerText(ctx)
		if err != nil {
			continue
		}
		for _, cell := range strings.Split(text, "\t") {
			if strings.ToLower(strings.Join(strings.Fields(cell), " ")) == want {
				return row
			}
		}
	}
	return rows[0]
}
