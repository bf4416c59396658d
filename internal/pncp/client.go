// Package pncp talks to the Portal Nacional de Contratações Públicas:
// page-size negotiation, concurrent pagination and line-item resolution, all
// backed by the disk cache.
package pncp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/lucashm/pncp-harvester/internal/adaptive"
	"github.com/lucashm/pncp-harvester/internal/cache"
	"github.com/lucashm/pncp-harvester/internal/dates"
	"github.com/lucashm/pncp-harvester/internal/domain"
	"github.com/lucashm/pncp-harvester/internal/httpclient"
)

const (
	DefaultConsultaURL      = "https://pncp.gov.br/api/consulta/v1/contratacoes/publicacao"
	DefaultItensURLTemplate = "https://pncp.gov.br/api/pncp/v1/orgaos/%s/compras/%d/%d/itens"
)

// pageSizeDefault marks "omit tamanhoPagina and take the server default".
const pageSizeDefault = 0

var pageSizeCandidates = []int{500, 200, 100, 50, pageSizeDefault}

// ErrCacheOnlyMiss is returned in cache-only mode when a key is absent.
var ErrCacheOnlyMiss = errors.New("cache-only mode: entry not cached")

// fetchKey identifies a page-size negotiation context.
type fetchKey struct {
	modality int
	mode     int
	hasMode  bool
}

type Config struct {
	ConsultaURL      string
	ItensURLTemplate string
	CacheOnly        bool
	HTTP             *httpclient.Client
	Cache            *cache.Disk
	Pages            *adaptive.Limiter
	Items            *adaptive.Limiter
	Logger           *log.Logger
}

type Client struct {
	consultaURL string
	itensURL    string
	cacheOnly   bool
	http        *httpclient.Client
	cache       *cache.Disk
	pages       *adaptive.Limiter
	items       *adaptive.Limiter
	logger      *log.Logger
	stats       Stats

	mu        sync.Mutex
	pageSizes map[fetchKey]int
}

func NewClient(config Config) *Client {
	if strings.TrimSpace(config.ConsultaURL) == "" {
		config.ConsultaURL = DefaultConsultaURL
	}
	if strings.TrimSpace(config.ItensURLTemplate) == "" {
		config.ItensURLTemplate = DefaultItensURLTemplate
	}
	return &Client{
		consultaURL: strings.TrimSuffix(config.ConsultaURL, "/"),
		itensURL:    config.ItensURLTemplate,
		cacheOnly:   config.CacheOnly,
		http:        config.HTTP,
		cache:       config.Cache,
		pages:       config.Pages,
		items:       config.Items,
		logger:      config.Logger,
		pageSizes:   make(map[fetchKey]int),
	}
}

type consultaEnvelope struct {
	Data                 []domain.Record `json:"data"`
	TotalPaginas         int             `json:"totalPaginas"`
	TotalPaginasConsulta int             `json:"totalPaginasConsulta"`
}

func (e consultaEnvelope) totalPages() int {
	total := e.TotalPaginas
	if total == 0 {
		total = e.TotalPaginasConsulta
	}
	if total < 1 {
		total = 1
	}
	return total
}

// FetchWindow returns every record for one (window, modality, disputeMode),
// serving from cache when possible. Pages beyond the first are fetched
// concurrently; a failed page is logged and dropped rather than failing the
// window (the cache then holds the partial union).
func (c *Client) FetchWindow(ctx context.Context, window dates.Window, modality int, disputeMode *int) ([]domain.Record, error) {
	key := windowCacheKey(modality, disputeMode, window)
	if data, err := c.cache.Get(key); err == nil {
		var records []domain.Record
		if err := json.Unmarshal(data, &records); err == nil {
			c.stats.WindowCacheHits.Add(1)
			c.logf("window cache hit modality=%d window=%s..%s records=%d",
				modality, window.StartString(), window.EndString(), len(records))
			return records, nil
		}
		c.logf("window cache entry unreadable key=%s, refetching", key)
	}
	if c.cacheOnly {
		return nil, fmt.Errorf("window %s..%s modality %d: %w",
			window.StartString(), window.EndString(), modality, ErrCacheOnlyMiss)
	}

	c.stats.PagesAttempted.Add(1)
	first, err := c.fetchPage(ctx, 1, window, modality, disputeMode)
	if err != nil {
		c.stats.PagesFailed.Add(1)
		return nil, fmt.Errorf("discover pages modality=%d window=%s..%s: %w",
			modality, window.StartString(), window.EndString(), err)
	}
	total := first.totalPages()
	c.logf("pages discovered modality=%d window=%s..%s total=%d first_page=%d",
		modality, window.StartString(), window.EndString(), total, len(first.Data))

	records := first.Data
	if total > 1 {
		var mu sync.Mutex
		var wg sync.WaitGroup
		for page := 2; page <= total; page++ {
			wg.Add(1)
			go func(page int) {
				defer wg.Done()
				if err := c.pages.Acquire(ctx); err != nil {
					return
				}
				defer c.pages.Release()

				c.stats.PagesAttempted.Add(1)
				payload, err := c.fetchPage(ctx, page, window, modality, disputeMode)
				if err != nil {
					c.stats.PagesFailed.Add(1)
					c.logf("page fetch failed modality=%d window=%s page=%d/%d err=%v",
						modality, window.StartString(), page, total, err)
					return
				}
				mu.Lock()
				records = append(records, payload.Data...)
				mu.Unlock()
			}(page)
		}
		wg.Wait()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	encoded, err := json.Marshal(records)
	if err != nil {
		return records, fmt.Errorf("encode window cache entry: %w", err)
	}
	if err := c.cache.Put(key, encoded); err != nil {
		c.logf("window cache write failed key=%s err=%v", key, err)
	}
	return records, nil
}

// fetchPage issues one consulta request, negotiating the page size for this
// (modality, disputeMode) on first contact and reusing it afterwards.
func (c *Client) fetchPage(ctx context.Context, page int, window dates.Window, modality int, disputeMode *int) (*consultaEnvelope, error) {
	params := url.Values{
		"dataInicial":                 {window.StartString()},
		"dataFinal":                   {window.EndString()},
		"codigoModalidadeContratacao": {strconv.Itoa(modality)},
		"pagina":                      {strconv.Itoa(page)},
	}
	if disputeMode != nil {
		params.Set("codigoModoDisputa", strconv.Itoa(*disputeMode))
	}

	key := newFetchKey(modality, disputeMode)
	if size, ok := c.negotiatedPageSize(key); ok {
		if size != pageSizeDefault {
			params.Set("tamanhoPagina", strconv.Itoa(size))
		}
		return c.getConsulta(ctx, params)
	}

	var lastErr error
	for _, candidate := range pageSizeCandidates {
		attempt := cloneValues(params)
		if candidate != pageSizeDefault {
			attempt.Set("tamanhoPagina", strconv.Itoa(candidate))
		}
		payload, err := c.getConsulta(ctx, attempt)
		if err == nil {
			c.storePageSize(key, candidate)
			c.logf("page size negotiated modality=%d size=%s", modality, describePageSize(candidate))
			return payload, nil
		}
		if isPageSizeRejection(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	if lastErr == nil {
		lastErr = errors.New("no page size candidate accepted")
	}
	return nil, fmt.Errorf("page size negotiation exhausted for modality %d: %w", modality, lastErr)
}

func (c *Client) getConsulta(ctx context.Context, params url.Values) (*consultaEnvelope, error) {
	body, err := c.http.Get(ctx, c.consultaURL, params)
	if err != nil {
		return nil, err
	}
	var envelope consultaEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode consulta response: %w", err)
	}
	return &envelope, nil
}

func (c *Client) negotiatedPageSize(key fetchKey) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	size, ok := c.pageSizes[key]
	return size, ok
}

func (c *Client) storePageSize(key fetchKey, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pageSizes[key] = size
}

// isPageSizeRejection detects the portal's complaint about tamanhoPagina.
// The server's error shape for this condition is not formally documented;
// a 400 whose body mentions "tamanho" is the observed behavior.
func isPageSizeRejection(err error) bool {
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		return false
	}
	return strings.Contains(strings.ToLower(statusErr.Body), "tamanho")
}

func newFetchKey(modality int, disputeMode *int) fetchKey {
	key := fetchKey{modality: modality}
	if disputeMode != nil {
		key.mode = *disputeMode
		key.hasMode = true
	}
	return key
}

func windowCacheKey(modality int, disputeMode *int, window dates.Window) string {
	modeTag := "x"
	if disputeMode != nil {
		modeTag = strconv.Itoa(*disputeMode)
	}
	return fmt.Sprintf("contratacoes_m%d_md%s_%s_%s.json",
		modality, modeTag, window.StartString(), window.EndString())
}

func describePageSize(size int) string {
	if size == pageSizeDefault {
		return "default"
	}
	return strconv.Itoa(size)
}

func cloneValues(values url.Values) url.Values {
	clone := make(url.Values, len(values))
	for key, list := range values {
		clone[key] = append([]string(nil), list...)
	}
	return clone
}

func (c *Client) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
