package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

// ProvisionUser fills the creation form with user and submits it. Success
// requires the new user's email (or name) to appear on the page afterwards.
func (e *Engine) ProvisionUser(ctx context.Context, baseURL string, user map[string]string) schemas.WorkflowResult {
	payload := &schemas.ProvisionPayload{
		Submitted:     make(map[string]string, len(user)),
		FilledFields:  []string{},
		SkippedFields: []string{},
	}
	for k, v := range user {
		payload.Submitted[k] = v
	}
	result := e.run(ctx, schemas.WorkflowProvision, true, func(ctx context.Context, page schemas.Page, log *runLog) (bool, error) {
		return e.provision(ctx, page, log, baseURL, payload)
	})
	result.Provision = payload
	return result
}

func (e *Engine) provision(ctx context.Context, page schemas.Page, log *runLog, baseURL string, payload *schemas.ProvisionPayload) (bool, error) {
	user := payload.Submitted
	if len(user) == 0 {
		return false, fmt.Errorf("%w: no user fields supplied", ErrInvalidInput)
	}
	if err := e.importSession(ctx, page, log); err != nil {
		return false, err
	}
	listingURL := joinURL(baseURL, e.portal.ListingPath)
	if err := e.navigate(ctx, page, listingURL, log); err != nil {
		return false, err
	}

	if err := page.WaitForSelector(ctx, e.portal.AddUserLocator, e.timeouts.AddUser); err != nil {
		return false, fmt.Errorf("add user control not found: %w", err)
	}
	if err := page.Click(ctx, e.portal.AddUserLocator); err != nil {
		return false, fmt.Errorf("failed to open the creation form: %w", err)
	}
	if err := page.WaitForSelector(ctx, e.portal.FormLocator, e.timeouts.Form); err != nil {
		return false, fmt.Errorf("creation form did not appear: %w", err)
	}
	log.infof("Creation form opened")

	snapshot, err := e.snapshot(ctx, page, listingURL)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.warnf("Form snapshot failed (%v); resolving without markup", err)
	}
	profile := e.resolver.AnalyzeForm(ctx, snapshot, e.portal.FormContext)
	e.observeConfidence("form", profile.OverallConfidence)
	log.infof("Form profile %q with confidence %.2f and %d fields", profile.Signature, profile.OverallConfidence, len(profile.Fields))
	if len(profile.Fields) == 0 {
		log.warnf("Form profile has no fields; no field-specific fill attempted")
	}

	fields := make([]string, 0, len(user))
	for field := range user {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		loc, ok := profile.Fields[field]
		if !ok || loc.Locator == "" {
			payload.SkippedFields = append(payload.SkippedFields, field)
			log.infof("No locator for field %q; skipped", field)
			continue
		}
		if err := fillField(ctx, page, loc.Locator, user[field]); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			payload.SkippedFields = append(payload.SkippedFields, field)
			log.warnf("Failed to fill field %q: %v", field, err)
			continue
		}
		payload.FilledFields = append(payload.FilledFields, field)
		log.infof("Filled field %q", field)
	}

	if profile.SubmitLocator == "" {
		return false, fmt.Errorf("%w: form profile has no submit locator", ErrSubmitUnavailable)
	}
	if err := page.Click(ctx, profile.SubmitLocator); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("%w: %w", ErrSubmitUnavailable, err)
	}
	log.infof("Form submitted")
	if err := settle(ctx, e.timeouts.SubmitSettle); err != nil {
		return false, err
	}

	landmark := user[schemas.FieldEmail]
	if landmark == "" {
		landmark = user[schemas.FieldName]
	}
	if landmark == "" {
		return false, fmt.Errorf("%w: no email or name to look for", ErrNotVerified)
	}
	verified, err := landmarkPresent(ctx, page, landmark, e.timeouts.Verify)
	if err != nil {
		return false, err
	}
	payload.Verified = verified
	if !verified {
		return false, fmt.Errorf("%w: %q did not appear after submission", ErrNotVerified, landmark)
	}
	log.infof("Verified %q is listed", landmark)
	return true, nil
}

// fillField selects an option for select locators and types into anything else.
func fillField(ctx context.Context, page schemas.Page, locator, value string) error {
	if isSelectLocator(locator) {
		return page.SelectOption(ctx, locator, value)
	}
	return page.Fill(ctx, locator, value)
}

func isSelectLocator(locator string) bool {
	l := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(locator, "css=")))
	return l == "select" || strings.HasPrefix(l, "select[") || strings.HasPrefix(l, "select#") ||
		strings.HasPrefix(l, "select.") || strings.HasPrefix(l, "select:") || strings.HasPrefix(l, "select ")
}
