package ledger

import "context"

// Store persists modification records. Implementations are dumb row stores;
// all lifecycle validation happens in the Service. A store must survive
// process restart without losing OriginalContent for any applied record —
// that is the reversibility guarantee.
type Store interface {
	Create(ctx context.Context, m Modification) error
	Get(ctx context.Context, id string) (Modification, error)
	Update(ctx context.Context, m Modification) error
	List(ctx context.Context, f Filter) ([]Modification, error)
}
