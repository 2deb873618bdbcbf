package bolt

import (
	"context"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/asdine/storm/v3/codec/gob"
	"go.etcd.io/bbolt"
)

const openTimeout = time.Second

// DB represents a database
type DB struct {
	path    string
	stormDB *storm.DB
	ctx     context.Context
	cancel  func()

	// Now returns the current time. It is replaced in tests.
	Now func() time.Time
}

// NewDB returns new database
func NewDB(path string) *DB {
	db := &DB{
		path: path,
		Now:  time.Now,
	}

	db.ctx, db.cancel = context.WithCancel(context.Background())

	return db
}

// Open opens new database connection.
// Records are gob encoded so that fields hidden from JSON, such as tokens, are stored.
func (db *DB) Open() error {
	stormDB, err := storm.Open(db.path,
		storm.Codec(gob.Codec),
		storm.BoltOptions(0600, &bbolt.Options{Timeout: openTimeout}),
	)
	if err != nil {
		return err
	}
	db.stormDB = stormDB

	return nil
}

// Close closes database connection
func (db *DB) Close() error {
	db.cancel()

	if db.stormDB != nil {
		return db.stormDB.Close()
	}

	return nil
}
