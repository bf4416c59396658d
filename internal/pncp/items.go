package pncp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lucashm/pncp-harvester/internal/domain"
)

// rawItem is the wire shape of one line item; field names vary between
// deployments, so both description and unit-value aliases are read.
type rawItem struct {
	Number         int      `json:"numeroItem"`
	Description    string   `json:"descricao"`
	DescriptionAlt string   `json:"descricaoItem"`
	Quantity       *float64 `json:"quantidade"`
	UnitValue      *float64 `json:"valorUnitarioEstimado"`
	UnitValueAlt   *float64 `json:"valorEstimado"`
	TotalValue     *float64 `json:"valorTotalEstimado"`
}

// FetchItems resolves line items for the given record identities in parallel
// under the items limiter. Callers must pass deduplicated identities: one
// network call is issued per identity at most. A single record's failure is
// logged and its items omitted.
func (c *Client) FetchItems(ctx context.Context, ids []domain.RecordID) ([]domain.Item, error) {
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		items []domain.Item
	)

	for _, id := range ids {
		wg.Add(1)
		go func(id domain.RecordID) {
			defer wg.Done()
			if err := c.items.Acquire(ctx); err != nil {
				return
			}
			defer c.items.Release()

			c.stats.ItemFetchesAttempted.Add(1)
			fetched, err := c.fetchRecordItems(ctx, id)
			if err != nil {
				c.stats.ItemFetchesFailed.Add(1)
				c.logf("item fetch failed record=%s err=%v", id, err)
				return
			}
			mu.Lock()
			items = append(items, fetched...)
			mu.Unlock()
			c.logf("items fetched record=%s count=%d", id, len(fetched))
		}(id)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) fetchRecordItems(ctx context.Context, id domain.RecordID) ([]domain.Item, error) {
	key := itemsCacheKey(id)
	if data, err := c.cache.Get(key); err == nil {
		var cached []domain.Item
		if err := json.Unmarshal(data, &cached); err == nil {
			c.stats.ItemCacheHits.Add(1)
			return cached, nil
		}
		c.logf("items cache entry unreadable key=%s, refetching", key)
	}
	if c.cacheOnly {
		return nil, fmt.Errorf("record %s: %w", id, ErrCacheOnlyMiss)
	}

	target := fmt.Sprintf(c.itensURL, id.CNPJ, id.Year, id.Sequence)
	body, err := c.http.Get(ctx, target, nil)
	if err != nil {
		return nil, err
	}

	raws, err := decodeItemList(body)
	if err != nil {
		return nil, err
	}

	items := make([]domain.Item, 0, len(raws))
	for _, raw := range raws {
		items = append(items, normalizeItem(id, raw, c.itensURL))
	}

	if encoded, err := json.Marshal(items); err == nil {
		if err := c.cache.Put(key, encoded); err != nil {
			c.logf("items cache write failed key=%s err=%v", key, err)
		}
	}
	return items, nil
}

// decodeItemList accepts both the {"data": [...]} envelope and a bare list.
func decodeItemList(body []byte) ([]rawItem, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []rawItem
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode item list: %w", err)
		}
		return list, nil
	}
	var envelope struct {
		Data []rawItem `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode item envelope: %w", err)
	}
	return envelope.Data, nil
}

func normalizeItem(id domain.RecordID, raw rawItem, itensTemplate string) domain.Item {
	description := raw.Description
	if description == "" {
		description = raw.DescriptionAlt
	}
	unitValue := raw.UnitValue
	if unitValue == nil {
		unitValue = raw.UnitValueAlt
	}
	totalValue := raw.TotalValue
	if totalValue == nil && raw.Quantity != nil && unitValue != nil {
		derived := *raw.Quantity * *unitValue
		totalValue = &derived
	}
	return domain.Item{
		Record:      id,
		Number:      raw.Number,
		Description: description,
		Quantity:    raw.Quantity,
		UnitValue:   unitValue,
		TotalValue:  totalValue,
		DetailURL:   fmt.Sprintf(itensTemplate+"/%d/resultados", id.CNPJ, id.Year, id.Sequence, raw.Number),
		NoticeURL:   id.NoticeURL(),
	}
}

func itemsCacheKey(id domain.RecordID) string {
	return fmt.Sprintf("itens_%s_%d_%d.json", id.CNPJ, id.Year, id.Sequence)
}
