// Package harvest drives a full collection run: windowing, record fetching,
// filtering, deduplication, item resolution and report emission.
package harvest

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lucashm/pncp-harvester/internal/dates"
	"github.com/lucashm/pncp-harvester/internal/domain"
	"github.com/lucashm/pncp-harvester/internal/pncp"
	"github.com/lucashm/pncp-harvester/internal/report"
	"github.com/lucashm/pncp-harvester/internal/repository"
)

// Fetcher is the PNCP access surface the runner depends on.
type Fetcher interface {
	FetchWindow(ctx context.Context, window dates.Window, modality int, disputeMode *int) ([]domain.Record, error)
	FetchItems(ctx context.Context, ids []domain.RecordID) ([]domain.Item, error)
	Stats() pncp.StatsSnapshot
}

// Request carries the per-run inputs.
type Request struct {
	StartDate    string
	EndDate      string
	Modalities   []int
	DisputeMode  *int
	ObjectFilter string
	ItemTerms    []string
}

// Summary counts what was attempted versus collected so partial data loss is
// visible instead of silent.
type Summary struct {
	RunID                string
	Windows              int
	WindowsFailed        int
	RecordsCollected     int
	RecordsMatched       int
	UniqueRecords        int
	PagesAttempted       int64
	PagesFailed          int64
	ItemFetchesAttempted int64
	ItemFetchesFailed    int64
	ItemsCollected       int
	ItemsMatched         int
	ReportPath           string
	StartedAt            time.Time
	FinishedAt           time.Time
}

type Runner struct {
	fetcher   Fetcher
	repo      repository.RunsRepository
	logger    *log.Logger
	splitMode dates.Mode
	reportDir string
}

func NewRunner(fetcher Fetcher, repo repository.RunsRepository, splitMode dates.Mode, reportDir string, logger *log.Logger) *Runner {
	if repo == nil {
		repo = repository.NewMemoryRunsRepository()
	}
	if reportDir == "" {
		reportDir = "."
	}
	return &Runner{
		fetcher:   fetcher,
		repo:      repo,
		logger:    logger,
		splitMode: splitMode,
		reportDir: reportDir,
	}
}

// Run executes the whole harvest. A failed window or record is logged,
// counted and skipped; only range validation, filter compilation, context
// cancellation and report writing are fatal.
func (r *Runner) Run(ctx context.Context, request Request) (*Summary, error) {
	if len(request.Modalities) == 0 {
		return nil, fmt.Errorf("at least one modality code is required")
	}
	termsRe, err := compileTerms(request.ItemTerms)
	if err != nil {
		return nil, err
	}
	windows, err := dates.Split(request.StartDate, request.EndDate, r.splitMode)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		RunID:     uuid.NewString(),
		Windows:   len(windows) * len(request.Modalities),
		StartedAt: time.Now().UTC(),
	}
	r.logf("run started id=%s windows=%d mode=%s modalities=%v",
		summary.RunID, len(windows), r.splitMode, request.Modalities)

	var records []domain.Record
	for _, window := range windows {
		for _, modality := range request.Modalities {
			fetched, err := r.fetcher.FetchWindow(ctx, window, modality, request.DisputeMode)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				summary.WindowsFailed++
				r.logf("window failed modality=%d window=%s..%s err=%v",
					modality, window.StartString(), window.EndString(), err)
				continue
			}
			records = append(records, fetched...)
		}
		r.logf("window done window=%s..%s records_total=%d",
			window.StartString(), window.EndString(), len(records))
	}
	summary.RecordsCollected = len(records)

	matched := filterRecords(records, request.ObjectFilter)
	summary.RecordsMatched = len(matched)
	r.logf("object filter applied filter=%q matched=%d of=%d",
		request.ObjectFilter, len(matched), len(records))

	ids := uniqueRecordIDs(matched, r.logger)
	summary.UniqueRecords = len(ids)

	items, err := r.fetcher.FetchItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	summary.ItemsCollected = len(items)

	found := filterItems(items, termsRe)
	summary.ItemsMatched = len(found)

	path, err := report.Write(r.reportDir, summary.RunID, time.Now().UTC(), found)
	if err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	summary.ReportPath = path

	stats := r.fetcher.Stats()
	summary.PagesAttempted = stats.PagesAttempted
	summary.PagesFailed = stats.PagesFailed
	summary.ItemFetchesAttempted = stats.ItemFetchesAttempted
	summary.ItemFetchesFailed = stats.ItemFetchesFailed
	summary.FinishedAt = time.Now().UTC()

	r.persist(ctx, request, summary, found)
	r.logf("run finished id=%s records=%d unique=%d items=%d matched=%d pages_failed=%d item_fetches_failed=%d report=%s",
		summary.RunID, summary.RecordsCollected, summary.UniqueRecords,
		summary.ItemsCollected, summary.ItemsMatched,
		summary.PagesFailed, summary.ItemFetchesFailed, summary.ReportPath)
	return summary, nil
}

func (r *Runner) persist(ctx context.Context, request Request, summary *Summary, items []domain.Item) {
	run := repository.RunRecord{
		ID:               summary.RunID,
		StartDate:        request.StartDate,
		EndDate:          request.EndDate,
		Modalities:       request.Modalities,
		ObjectFilter:     request.ObjectFilter,
		ItemTerms:        request.ItemTerms,
		RecordsCollected: summary.RecordsCollected,
		ItemsMatched:     summary.ItemsMatched,
		ReportPath:       summary.ReportPath,
		StartedAt:        summary.StartedAt,
		FinishedAt:       summary.FinishedAt,
	}
	if err := r.repo.SaveRun(ctx, run); err != nil {
		r.logf("run persistence failed id=%s err=%v", summary.RunID, err)
		return
	}
	if err := r.repo.SaveItems(ctx, summary.RunID, items); err != nil {
		r.logf("item persistence failed id=%s err=%v", summary.RunID, err)
	}
}

// filterRecords keeps records whose object description contains the filter,
// case-insensitively. An empty filter keeps everything.
func filterRecords(records []domain.Record, filter string) []domain.Record {
	needle := strings.ToLower(strings.TrimSpace(filter))
	if needle == "" {
		return records
	}
	matched := make([]domain.Record, 0, len(records))
	for _, record := range records {
		if strings.Contains(strings.ToLower(record.Object), needle) {
			matched = append(matched, record)
		}
	}
	return matched
}

// uniqueRecordIDs derives identities and deduplicates them preserving
// first-seen order, so the item endpoint is hit once per contratação.
func uniqueRecordIDs(records []domain.Record, logger *log.Logger) []domain.RecordID {
	seen := make(map[domain.RecordID]bool, len(records))
	ids := make([]domain.RecordID, 0, len(records))
	for _, record := range records {
		id, err := record.ID()
		if err != nil {
			if logger != nil {
				logger.Printf("record skipped, no identity err=%v", err)
			}
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

func filterItems(items []domain.Item, terms *regexp.Regexp) []domain.Item {
	if terms == nil {
		return items
	}
	matched := make([]domain.Item, 0, len(items))
	for _, item := range items {
		if terms.MatchString(item.Description) {
			matched = append(matched, item)
		}
	}
	return matched
}

// compileTerms builds a case-insensitive OR of literal terms; an empty term
// list means no item filtering.
func compileTerms(terms []string) (*regexp.Regexp, error) {
	cleaned := make([]string, 0, len(terms))
	for _, term := range terms {
		if trimmed := strings.TrimSpace(term); trimmed != "" {
			cleaned = append(cleaned, regexp.QuoteMeta(trimmed))
		}
	}
	if len(cleaned) == 0 {
		return nil, nil
	}
	compiled, err := regexp.Compile("(?i)" + strings.Join(cleaned, "|"))
	if err != nil {
		return nil, fmt.Errorf("compile item terms: %w", err)
	}
	return compiled, nil
}

func (r *Runner) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
