// Package replica keeps local copies of fetched and written sequences in
// the on-disk store, so reads after a successful write never hit the
// network.
package replica

import (
	"fmt"

	"PayStream/internal/protocol"
	"PayStream/internal/sequence"
	"PayStream/internal/storage"
)

// prefixSequence namespaces sequence snapshots in the shared store.
var prefixSequence = []byte("s:")

// Cache is the local replica store. Values are zstd-compressed sequence
// snapshots keyed by packed address.
type Cache struct {
	db *storage.Storage
}

// New creates a cache over an open store.
func New(db *storage.Storage) *Cache {
	return &Cache{db: db}
}

// Get returns the cached sequence for an address, or false if absent.
func (c *Cache) Get(addr sequence.Address) (*sequence.Sequence, bool, error) {
	value, err := c.db.Get(c.key(addr))
	if err != nil {
		return nil, false, fmt.Errorf("read %s:\n%w", addr, err)
	}

	if value == nil {
		return nil, false, nil
	}

	raw, err := protocol.Decompress(value)
	if err != nil {
		return nil, false, fmt.Errorf("decompress %s:\n%w", addr, err)
	}

	seq, err := sequence.Decode(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s:\n%w", addr, err)
	}

	return seq, true, nil
}

// Put stores a sequence snapshot, replacing any previous version.
func (c *Cache) Put(seq *sequence.Sequence) error {
	compressed, err := protocol.Compress(sequence.Encode(seq))
	if err != nil {
		return fmt.Errorf("compress %s:\n%w", seq.Address(), err)
	}

	if err := c.db.Set(c.key(seq.Address()), compressed); err != nil {
		return fmt.Errorf("write %s:\n%w", seq.Address(), err)
	}

	return nil
}

// Remove drops the cached copy of an address. Removing an absent address
// is a no-op.
func (c *Cache) Remove(addr sequence.Address) error {
	if err := c.db.Delete(c.key(addr)); err != nil {
		return fmt.Errorf("delete %s:\n%w", addr, err)
	}

	return nil
}

// Addresses lists all cached sequence addresses.
func (c *Cache) Addresses() ([]sequence.Address, error) {
	var addrs []sequence.Address

	err := c.db.IteratePrefix(prefixSequence, func(key, value []byte) error {
		addr, err := sequence.AddressFromKey(key[len(prefixSequence):])
		if err != nil {
			return err
		}
		addrs = append(addrs, addr)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate cache:\n%w", err)
	}

	return addrs, nil
}

func (c *Cache) key(addr sequence.Address) []byte {
	packed := addr.Key()

	key := make([]byte, 0, len(prefixSequence)+len(packed))
	key = append(key, prefixSequence...)
	key = append(key, packed[:]...)

	return key
}
