package vexfs

import "time"

// Config holds the recognized engine options from spec §6. Zero-valued
// numeric and duration fields are replaced by DefaultConfig()'s defaults in
// Format, FormatDevice and Mount; boolean fields are used as given.
type Config struct {
	BlockSize       int
	JournalBlocks   int
	HNSWM           int
	HNSWEfConstruct int
	HNSWEfSearch    int
	LSHNumTables    int
	LSHFuncsPerTable int

	ContentionThreshold int
	AdaptiveThreshold   int
	DeadlockTimeout     time.Duration

	NUMAAware         bool
	DeadlockDetection bool
	AdaptiveLocking   bool
}

// DefaultConfig returns the configuration defaults named in spec §6.
func DefaultConfig() Config {
	return Config{
		BlockSize:        4096,
		JournalBlocks:    1024,
		HNSWM:            16,
		HNSWEfConstruct:  200,
		HNSWEfSearch:     50,
		LSHNumTables:     8,
		LSHFuncsPerTable: 8,

		ContentionThreshold: 4,
		AdaptiveThreshold:   16,
		DeadlockTimeout:     250 * time.Millisecond,

		NUMAAware:         true,
		DeadlockDetection: true,
		AdaptiveLocking:   true,
	}
}

// withDefaults fills zero-valued fields of c from DefaultConfig().
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BlockSize == 0 {
		c.BlockSize = d.BlockSize
	}
	if c.JournalBlocks == 0 {
		c.JournalBlocks = d.JournalBlocks
	}
	if c.HNSWM == 0 {
		c.HNSWM = d.HNSWM
	}
	if c.HNSWEfConstruct == 0 {
		c.HNSWEfConstruct = d.HNSWEfConstruct
	}
	if c.HNSWEfSearch == 0 {
		c.HNSWEfSearch = d.HNSWEfSearch
	}
	if c.LSHNumTables == 0 {
		c.LSHNumTables = d.LSHNumTables
	}
	if c.LSHFuncsPerTable == 0 {
		c.LSHFuncsPerTable = d.LSHFuncsPerTable
	}
	if c.ContentionThreshold == 0 {
		c.ContentionThreshold = d.ContentionThreshold
	}
	if c.AdaptiveThreshold == 0 {
		c.AdaptiveThreshold = d.AdaptiveThreshold
	}
	if c.DeadlockTimeout == 0 {
		c.DeadlockTimeout = d.DeadlockTimeout
	}
	return c
}

// Validate rejects configurations spec §3/§6 would not accept.
func (c Config) Validate() error {
	if err := ValidateBlockSize(c.BlockSize); err != nil {
		return err
	}
	if c.JournalBlocks <= 0 {
		return Errorf(ErrInvalidArgument, "Config.Validate", "journal-blocks must be positive, got %d", c.JournalBlocks)
	}
	if c.HNSWM <= 0 || c.HNSWEfConstruct <= 0 || c.HNSWEfSearch <= 0 {
		return Errorf(ErrInvalidArgument, "Config.Validate", "hnsw parameters must be positive")
	}
	if c.LSHNumTables <= 0 || c.LSHFuncsPerTable <= 0 {
		return Errorf(ErrInvalidArgument, "Config.Validate", "lsh parameters must be positive")
	}
	return nil
}
