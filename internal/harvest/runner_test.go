package harvest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/lucashm/pncp-harvester/internal/dates"
	"github.com/lucashm/pncp-harvester/internal/domain"
	"github.com/lucashm/pncp-harvester/internal/pncp"
	"github.com/lucashm/pncp-harvester/internal/repository"
)

type fakeFetcher struct {
	mu           sync.Mutex
	records      map[int][]domain.Record
	items        map[domain.RecordID][]domain.Item
	failModality int
	windowCalls  int
	itemCalls    []domain.RecordID
}

func (f *fakeFetcher) FetchWindow(_ context.Context, _ dates.Window, modality int, _ *int) ([]domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windowCalls++
	if modality == f.failModality && f.failModality != 0 {
		return nil, fmt.Errorf("modality %d unavailable", modality)
	}
	return f.records[modality], nil
}

func (f *fakeFetcher) FetchItems(_ context.Context, ids []domain.RecordID) ([]domain.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.itemCalls = append(f.itemCalls, ids...)
	var out []domain.Item
	for _, id := range ids {
		out = append(out, f.items[id]...)
	}
	return out, nil
}

func (f *fakeFetcher) Stats() pncp.StatsSnapshot { return pncp.StatsSnapshot{} }

func record(control, object string) domain.Record {
	return domain.Record{ControlNumber: control, Object: object}
}

func item(id domain.RecordID, number int, description string) domain.Item {
	return domain.Item{Record: id, Number: number, Description: description}
}

func TestRunDeduplicatesBeforeItemFetch(t *testing.T) {
	idA := domain.RecordID{CNPJ: "111", Year: 2024, Sequence: 1}
	idB := domain.RecordID{CNPJ: "222", Year: 2024, Sequence: 2}
	fetcher := &fakeFetcher{
		records: map[int][]domain.Record{
			6: {
				record("111-1-000001/2024", "compra de notebooks"),
				record("111-1-000001/2024", "compra de notebooks"),
				record("222-1-000002/2024", "compra de cadeiras"),
			},
		},
		items: map[domain.RecordID][]domain.Item{
			idA: {item(idA, 1, "notebook 14pol")},
			idB: {item(idB, 1, "cadeira giratória")},
		},
	}

	runner := NewRunner(fetcher, repository.NewMemoryRunsRepository(), dates.ModeMonthly, t.TempDir(), nil)
	summary, err := runner.Run(context.Background(), Request{
		StartDate:  "20240101",
		EndDate:    "20240131",
		Modalities: []int{6},
	})
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}

	if summary.RecordsCollected != 3 {
		t.Fatalf("expected 3 collected records, got %d", summary.RecordsCollected)
	}
	if summary.UniqueRecords != 2 {
		t.Fatalf("expected 2 unique records, got %d", summary.UniqueRecords)
	}
	if len(fetcher.itemCalls) != 2 {
		t.Fatalf("expected one item fetch per unique record, got %d", len(fetcher.itemCalls))
	}
	if summary.ItemsCollected != 2 || summary.ItemsMatched != 2 {
		t.Fatalf("unexpected item counts: %+v", summary)
	}
}

func TestRunAppliesObjectAndTermFilters(t *testing.T) {
	idA := domain.RecordID{CNPJ: "111", Year: 2024, Sequence: 1}
	fetcher := &fakeFetcher{
		records: map[int][]domain.Record{
			6: {
				record("111-1-000001/2024", "Aquisição de EQUIPAMENTOS de informática"),
				record("333-1-000003/2024", "serviços de limpeza"),
			},
		},
		items: map[domain.RecordID][]domain.Item{
			idA: {
				item(idA, 1, "Notebook profissional"),
				item(idA, 2, "suporte de monitor"),
			},
		},
	}

	runner := NewRunner(fetcher, repository.NewMemoryRunsRepository(), dates.ModeMonthly, t.TempDir(), nil)
	summary, err := runner.Run(context.Background(), Request{
		StartDate:    "20240101",
		EndDate:      "20240131",
		Modalities:   []int{6},
		ObjectFilter: "equipamentos",
		ItemTerms:    []string{"notebook", "impressora"},
	})
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if summary.RecordsMatched != 1 {
		t.Fatalf("expected object filter to keep 1 record, got %d", summary.RecordsMatched)
	}
	if summary.ItemsCollected != 2 {
		t.Fatalf("expected 2 collected items, got %d", summary.ItemsCollected)
	}
	if summary.ItemsMatched != 1 {
		t.Fatalf("expected term filter to keep 1 item, got %d", summary.ItemsMatched)
	}
}

func TestRunSurvivesWindowFailures(t *testing.T) {
	fetcher := &fakeFetcher{
		records: map[int][]domain.Record{
			6: {record("111-1-000001/2024", "mesa")},
		},
		failModality: 8,
	}

	runner := NewRunner(fetcher, repository.NewMemoryRunsRepository(), dates.ModeMonthly, t.TempDir(), nil)
	summary, err := runner.Run(context.Background(), Request{
		StartDate:  "20240101",
		EndDate:    "20240131",
		Modalities: []int{6, 8},
	})
	if err != nil {
		t.Fatalf("one failing modality must not abort the run, got err=%v", err)
	}
	if summary.WindowsFailed != 1 {
		t.Fatalf("expected 1 failed window unit, got %d", summary.WindowsFailed)
	}
	if summary.RecordsCollected != 1 {
		t.Fatalf("expected surviving modality's records, got %d", summary.RecordsCollected)
	}
}

func TestRunFansOutAcrossWindowsAndModalities(t *testing.T) {
	fetcher := &fakeFetcher{records: map[int][]domain.Record{}}
	runner := NewRunner(fetcher, repository.NewMemoryRunsRepository(), dates.ModeMonthly, t.TempDir(), nil)
	summary, err := runner.Run(context.Background(), Request{
		StartDate:  "20240115",
		EndDate:    "20240215",
		Modalities: []int{6, 8, 9},
	})
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	// Two monthly windows times three modalities.
	if fetcher.windowCalls != 6 {
		t.Fatalf("expected 6 window fetches, got %d", fetcher.windowCalls)
	}
	if summary.Windows != 6 {
		t.Fatalf("expected 6 window units in summary, got %d", summary.Windows)
	}
}

func TestRunPersistsOutcome(t *testing.T) {
	idA := domain.RecordID{CNPJ: "111", Year: 2024, Sequence: 1}
	fetcher := &fakeFetcher{
		records: map[int][]domain.Record{6: {record("111-1-000001/2024", "toner")}},
		items:   map[domain.RecordID][]domain.Item{idA: {item(idA, 1, "toner preto")}},
	}
	repo := repository.NewMemoryRunsRepository()
	runner := NewRunner(fetcher, repo, dates.ModeMonthly, t.TempDir(), nil)

	summary, err := runner.Run(context.Background(), Request{
		StartDate:  "20240101",
		EndDate:    "20240131",
		Modalities: []int{6},
	})
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}

	saved, err := repo.GetRun(context.Background(), summary.RunID)
	if err != nil {
		t.Fatalf("expected run persisted: %v", err)
	}
	if saved.RecordsCollected != 1 || saved.ItemsMatched != 1 {
		t.Fatalf("unexpected persisted run: %+v", saved)
	}
	items, err := repo.ListItems(context.Background(), summary.RunID)
	if err != nil || len(items) != 1 {
		t.Fatalf("expected 1 persisted item, got %d err=%v", len(items), err)
	}
	if !strings.HasSuffix(summary.ReportPath, ".txt") {
		t.Fatalf("expected text report path, got %s", summary.ReportPath)
	}
}

func TestRunRejectsEmptyModalities(t *testing.T) {
	runner := NewRunner(&fakeFetcher{}, nil, dates.ModeMonthly, t.TempDir(), nil)
	if _, err := runner.Run(context.Background(), Request{StartDate: "20240101", EndDate: "20240131"}); err == nil {
		t.Fatalf("expected error for empty modality list")
	}
}

func TestParseModalities(t *testing.T) {
	codes, err := ParseModalities("6; 8 ;6;9")
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	want := []int{6, 8, 9}
	if len(codes) != len(want) {
		t.Fatalf("expected %v, got %v", want, codes)
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, codes)
		}
	}
	if _, err := ParseModalities(""); err == nil {
		t.Fatalf("expected error for empty input")
	}
	if _, err := ParseModalities("6;x"); err == nil {
		t.Fatalf("expected error for non-numeric code")
	}
}

func TestParseTerms(t *testing.T) {
	terms := ParseTerms(" notebook ; ;impressora;")
	if len(terms) != 2 || terms[0] != "notebook" || terms[1] != "impressora" {
		t.Fatalf("unexpected terms: %v", terms)
	}
	if got := ParseTerms("  "); got != nil {
		t.Fatalf("expected nil for blank input, got %v", got)
	}
}

func TestCompileTermsEscapesMetaCharacters(t *testing.T) {
	compiled, err := compileTerms([]string{"c++ (dev)"})
	if err != nil {
		t.Fatalf("expected literal compilation, got err=%v", err)
	}
	if !compiled.MatchString("curso de C++ (DEV) avançado") {
		t.Fatalf("expected case-insensitive literal match")
	}
	if compiled.MatchString("curso de c avançado") {
		t.Fatalf("meta characters must be escaped")
	}
}
