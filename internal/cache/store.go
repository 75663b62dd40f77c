package cache

// StoreStats contains storage-level statistics.
type StoreStats struct {
	Size      int   `json:"size"`
	MaxSize   int   `json:"max_size"`  // 0 if N/A (e.g., Redis)
	Evictions int64 `json:"evictions"` // 0 if not tracked (e.g., Redis)
}

// Store is one named cache store: a key→response mapping with atomic per-key
// writes. Implementations never surface storage errors on the read/write
// path; failures degrade to misses (reads) or dropped writes (writes), logged
// by the implementation.
type Store interface {
	Get(key string) (*Entry, bool)
	Set(key string, entry *Entry)
	Delete(key string)
	Keys() []string
	Len() int
	Purge()
	Stats() StoreStats
}
