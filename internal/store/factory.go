package store

import (
	"context"

	"basegraph.app/postprocess/core/db"
)

// Stores hands out stores bound to one connection, either the pool or a transaction.
type Stores struct {
	db db.DBTX
}

func NewStores(conn db.DBTX) *Stores {
	return &Stores{db: conn}
}

func (s *Stores) Groups() GroupStore {
	return newGroupStore(s.db)
}

func (s *Stores) Projects() ProjectStore {
	return newProjectStore(s.db)
}

func (s *Stores) Snoozes() SnoozeStore {
	return newSnoozeStore(s.db)
}

func (s *Stores) Events() EventStore {
	return newEventStore(s.db)
}

func (s *Stores) Ownership() OwnershipStore {
	return newOwnershipStore(s.db)
}

func (s *Stores) ServiceHooks() ServiceHookStore {
	return newServiceHookStore(s.db)
}

func (s *Stores) Features() FeatureStore {
	return newFeatureStore(s.db)
}

func (s *Stores) Options() OptionStore {
	return newOptionStore(s.db)
}

func (s *Stores) Plugins() PluginStore {
	return newPluginStore(s.db)
}

func (s *Stores) Tags() TagStore {
	return newTagStore(s.db)
}

// TxRunner runs fn inside a database transaction with stores bound to it.
type TxRunner struct {
	db *db.DB
}

func NewTxRunner(database *db.DB) *TxRunner {
	return &TxRunner{db: database}
}

func (r *TxRunner) WithTx(ctx context.Context, fn func(stores *Stores) error) error {
	return r.db.WithTx(ctx, func(tx db.DBTX) error {
		return fn(NewStores(tx))
	})
}
