package kvstore

import (
	"strings"

	"github.com/google/btree"
)

const indexDegree = 32

type indexEntry struct {
	key string
	off int64
}

func indexEntryLess(a, b indexEntry) bool {
	return a.key < b.key
}

// Index maps a key to the offset of its latest live frame in the data file.
// It's derived state: Load rebuilds it from scratch.
// Keys are kept sorted so that listing is cheap.
type Index struct {
	tree *btree.BTreeG[indexEntry]
}

func NewIndex() *Index {
	return &Index{
		tree: btree.NewG(indexDegree, indexEntryLess),
	}
}

func (idx *Index) Set(key string, off int64) {
	idx.tree.ReplaceOrInsert(indexEntry{key: key, off: off})
}

// Get returns offset of the frame for key
func (idx *Index) Get(key string) (int64, bool) {
	e, ok := idx.tree.Get(indexEntry{key: key})
	return e.off, ok
}

// Remove is a no-op if key is not present
func (idx *Index) Remove(key string) {
	idx.tree.Delete(indexEntry{key: key})
}

func (idx *Index) Len() int {
	return idx.tree.Len()
}

// Keys returns keys in ascending order
func (idx *Index) Keys() []string {
	res := make([]string, 0, idx.tree.Len())
	idx.tree.Ascend(func(e indexEntry) bool {
		res = append(res, e.key)
		return true
	})
	return res
}

// KeysWithPrefix returns keys starting with prefix, in ascending order
func (idx *Index) KeysWithPrefix(prefix string) []string {
	var res []string
	idx.tree.AscendGreaterOrEqual(indexEntry{key: prefix}, func(e indexEntry) bool {
		if !strings.HasPrefix(e.key, prefix) {
			return false
		}
		res = append(res, e.key)
		return true
	})
	return res
}
