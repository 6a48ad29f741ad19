package ledger

// Store is an interface for ledger block storage backends.
type Store interface {
	// LastIndex returns the index of the chain tip, or -1 for an empty chain.
	LastIndex() int
	// LastBlock returns the chain tip.
	LastBlock() (*Block, error)
	// GetBlock returns a block by index.
	GetBlock(index int) (*Block, error)
	// SetBlock appends a block. It fails with a KeyAlreadyExists error when a
	// block already occupies the index, and with a SkippedIndex-style
	// Integrity error when the index is not contiguous with the tip.
	SetBlock(block *Block) error
	// Blocks returns the chain from the given index (inclusive) to the tip.
	Blocks(from int) ([]*Block, error)
	// Reset replaces the chain from forkIndex onward with the given blocks.
	// Displaced blocks are retained in the superseded archive, never erased.
	Reset(forkIndex int, canonical []*Block) error
	// SupersededBlocks returns the archive of blocks displaced by
	// reconciliation.
	SupersededBlocks() []*Block
	// Close releases the backend.
	Close() error
}
