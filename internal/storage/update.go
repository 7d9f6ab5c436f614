package storage

import (
	"context"
	"fmt"

	"github.com/starford/marginalia/internal/apperr"
)

// DefaultUpdateAttempts bounds the retries of Update.
const DefaultUpdateAttempts = 3

// EditFunc returns the new content for a document, or changed=false when no
// write is needed.
type EditFunc func(content []byte) (updated []byte, changed bool, err error)

// Update performs read → edit → conditional write on path. The write only
// happens if the document's stamp is unchanged since the read; otherwise the
// whole cycle is retried, up to attempts times, before apperr.ErrStale.
//
// The stamp check and the write are two calls, so an external edit landing
// between them is still lost; this narrows the window, it does not close it.
func Update(ctx context.Context, p Provider, path string, attempts int, edit EditFunc) (bool, error) {
	if attempts <= 0 {
		attempts = DefaultUpdateAttempts
	}
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		before, err := p.Stat(path)
		if err != nil {
			return false, err
		}
		data, err := p.Read(path)
		if err != nil {
			return false, err
		}
		updated, changed, err := edit(data)
		if err != nil || !changed {
			return false, err
		}
		now, err := p.Stat(path)
		if err != nil {
			return false, err
		}
		if now.Stamp != before.Stamp {
			continue
		}
		if err := p.Write(path, updated); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, fmt.Errorf("storage: update %s: %w", path, apperr.ErrStale)
}
