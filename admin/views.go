package admin

import (
	"context"
	"errors"
	"time"

	"github.com/devexperts/QD-sub016/model"
)

// Row is one materialized list entry as rendered by the API
type Row struct {
	Position int   `json:"position"`
	Source   int   `json:"source"`
	Index    int64 `json:"index"`
	Payload  any   `json:"payload"`
}

// ModelView is the read-only surface of a list model the admin API needs
type ModelView interface {
	Symbol() string
	Sources() []int
	SizeLimit() int
	Stats() (entries, pending int)
	// Rows returns up to limit rows starting at position from and the total size
	Rows(ctx context.Context, from, limit int) (rows []Row, total int, err error)
}

type listView[P any] struct {
	*model.ListModel[P]
}

// inspectRetryInterval spaces Rows attempts while the model notifies listeners
const inspectRetryInterval = time.Millisecond

// ListView exposes a list model to the admin API.
// Rows are read on the model's delivery context, never concurrently with a batch.
func ListView[P any](m *model.ListModel[P]) ModelView {
	return listView[P]{m}
}

func (v listView[P]) Rows(ctx context.Context, from, limit int) ([]Row, int, error) {
	var (
		rows  []Row
		total int
	)
	read := func(m *model.ListModel[P]) {
		total = m.Size()
		for i, e := range m.All() {
			if i < from {
				continue
			}
			if len(rows) == limit {
				break
			}
			rows = append(rows, Row{Position: i, Source: e.SourceID, Index: e.Index, Payload: e.Payload})
		}
	}

	for {
		err := v.Inspect(ctx, read)
		if err == nil {
			return rows, total, nil
		}
		if !errors.Is(err, model.ErrInspectInDelivery) {
			return nil, 0, err
		}
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(inspectRetryInterval):
		}
	}
}
