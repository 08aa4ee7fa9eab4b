package fastcgi

import "context"

//idPool hands out request ids unique among in-flight requests on one
//connection. Id 0 is reserved for management records, so the pool starts
//at 1.
type idPool struct {
	ids chan uint16
}

func newIDs(limit uint32) idPool {
	if limit == 0 || limit > 65535 {
		limit = 65535
	}

	ids := make(chan uint16, limit)
	for i := uint32(1); i <= limit; i++ {
		ids <- uint16(i)
	}

	return idPool{ids: ids}
}

//Alloc blocks until an id is free or ctx is done.
func (p *idPool) Alloc(ctx context.Context) (uint16, error) {
	select {
	case id := <-p.ids:
		return id, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

//Release returns the id for reuse. The channel is sized to hold every id,
//so this never blocks.
func (p *idPool) Release(id uint16) {
	p.ids <- id
}
