package repository

import (
	"context"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager executes fn within a database transaction, passing the
// underlying handle via tx. Repositories accept that handle as their `qx any`
// argument and must also accept nil (non-transactional path).
type TransactionManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
