package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

// ScrapeUsers reads the listing page by page, up to maxPages. Records missing
// both name and email are dropped. The records gathered so far are returned
// even when the run ends early.
func (e *Engine) ScrapeUsers(ctx context.Context, baseURL string, maxPages int) schemas.WorkflowResult {
	payload := &schemas.ScrapePayload{Records: []schemas.Record{}}
	result := e.run(ctx, schemas.WorkflowScrape, true, func(ctx context.Context, page schemas.Page, log *runLog) (bool, error) {
		return e.scrape(ctx, page, log, baseURL, maxPages, payload)
	})
	payload.TotalScraped = len(payload.Records)
	result.Scrape = payload

	if e.metrics != nil {
		e.metrics.RecordsScraped.Add(float64(payload.TotalScraped))
		e.metrics.LowConfidencePages.Add(float64(payload.LowConfidencePages))
	}
	return result
}

func (e *Engine) scrape(ctx context.Context, page schemas.Page, log *runLog, baseURL string, maxPages int, payload *schemas.ScrapePayload) (bool, error) {
	if maxPages <= 0 {
		log.warnf("Max pages %d is not positive; scraping a single page", maxPages)
		maxPages = 1
	}
	if err := e.importSession(ctx, page, log); err != nil {
		return false, err
	}

	listingURL := joinURL(baseURL, e.portal.ListingPath)
	if err := e.navigate(ctx, page, listingURL, log); err != nil {
		return false, err
	}
	if err := page.WaitForSelector(ctx, e.portal.TableLocator, e.timeouts.Table); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("listing table not found: %w", err)
	}

	for payload.PagesProcessed < maxPages {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		pageNum := payload.PagesProcessed + 1

		snapshot, err := e.snapshot(ctx, page, listingURL)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			log.warnf("Page %d: snapshot failed (%v); resolving without markup", pageNum, err)
		}

		profile := e.resolver.AnalyzeTable(ctx, snapshot, listingURL)
		e.observeConfidence("table", profile.OverallConfidence)
		log.infof("Page %d: table profile %q with confidence %.2f", pageNum, profile.Signature, profile.OverallConfidence)
		if profile.OverallConfidence < e.threshold {
			payload.LowConfidencePages++
			log.warnf("Page %d: low confidence %.2f below threshold %.2f, applying %s strategy",
				pageNum, profile.OverallConfidence, e.threshold, e.strategy.Name())
			var note string
			profile, note = e.strategy.Apply(ctx, e.resolver, profile, snapshot)
			log.warnf("Page %d: %s", pageNum, note)
		}

		records, err := e.extractRows(ctx, page, profile, log, pageNum)
		payload.Records = append(payload.Records, records...)
		if err != nil {
			return false, err
		}
		payload.PagesProcessed++
		log.infof("Page %d: extracted %d records", pageNum, len(records))

		if payload.PagesProcessed >= maxPages {
			log.infof("Reached the page limit of %d", maxPages)
			break
		}
		more, err := e.nextPage(ctx, page, profile, log)
		if err != nil {
			return false, err
		}
		if !more {
			break
		}
	}

	log.infof("Scrape finished: %d records from %d pages", len(payload.Records), payload.PagesProcessed)
	return true, nil
}

// extractRows reads every row of the current page. Cell failures produce
// empty values; the only error returned is context cancellation.
func (e *Engine) extractRows(ctx context.Context, page schemas.Page, profile schemas.TableProfile, log *runLog, pageNum int) ([]schemas.Record, error) {
	rows, err := page.QueryAll(ctx, profile.RowLocator)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.warnf("Page %d: row lookup failed: %v", pageNum, err)
		return nil, nil
	}

	fields := columnOrder(profile)
	var (
		records []schemas.Record
		skipped int
	)
	for _, row := range rows {
		rec := make(schemas.Record, len(fields))
		for _, field := range fields {
			rec[field] = readCell(ctx, row, profile.Columns[field].Locator)
		}
		if ctx.Err() != nil {
			return records, ctx.Err()
		}
		if !rec.Identifiable() {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if skipped > 0 {
		log.infof("Page %d: skipped %d rows without name or email", pageNum, skipped)
	}
	return records, nil
}

func readCell(ctx context.Context, row schemas.ElementHandle, locator string) string {
	if locator == "" {
		return ""
	}
	cells, err := row.QueryAll(ctx, locator)
	if err != nil || len(cells) == 0 {
		return ""
	}
	text, err := cells[0].InnerText(ctx)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// nextPage advances the listing. It reports false when there is no further
// page; pagination failures are treated the same way. The only error
// returned is context cancellation.
func (e *Engine) nextPage(ctx context.Context, page schemas.Page, profile schemas.TableProfile, log *runLog) (bool, error) {
	if profile.NextPageLocator == "" {
		log.infof("Profile has no pagination control; stopping")
		return false, nil
	}
	controls, err := page.QueryAll(ctx, profile.NextPageLocator)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.warnf("Pagination failed (%v); treating as the last page", err)
		return false, nil
	}
	if len(controls) == 0 {
		log.infof("No next page control; last page reached")
		return false, nil
	}
	enabled, err := controls[0].IsEnabled(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.warnf("Pagination failed (%v); treating as the last page", err)
		return false, nil
	}
	if !enabled {
		log.infof("Next page control is disabled; last page reached")
		return false, nil
	}
	if err := controls[0].Click(ctx); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.warnf("Pagination failed (%v); treating as the last page", err)
		return false, nil
	}
	log.infof("Moved to the next page")
	if err := settle(ctx, e.timeouts.PageSettle); err != nil {
		return false, err
	}
	return true, nil
}

// columnOrder lists the profile's columns in ColumnOrder first, then the
// rest alphabetically.
func columnOrder(p schemas.TableProfile) []string {
	seen := make(map[string]bool, len(p.Columns))
	out := make([]string, 0, len(p.Columns))
	for _, name := range p.ColumnOrder {
		if _, ok := p.Columns[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	var rest []string
	for name := range p.Columns {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}
