package bulletin

// Database is a store that must be opened before use and closed afterwards.
type Database interface {
	Open() error
	Close() error
}
