// Package merkle builds checkpoint trees over chain entry digests. A root
// commits to every entry at once; an inclusion proof shows one entry is
// covered without shipping the whole log.
package merkle

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/Mindburn-Labs/helm-ledger/pkg/digest"
)

const (
	leafPrefix = "helm:ledger:leaf:v1"
	nodePrefix = "helm:ledger:node:v1"
)

var (
	ErrInvalidLeaf = errors.New("merkle: entry hash is not a digest of the tree algorithm")
	ErrOutOfRange  = errors.New("merkle: leaf index out of range")
	ErrEmptyTree   = errors.New("merkle: tree has no leaves")
)

// Leaf is one entry digest placed in the tree.
type Leaf struct {
	Index     int    `json:"index"`
	EntryHash string `json:"entry_hash"`
	LeafHash  string `json:"leaf_hash"`
}

// Tree holds every level, leaves first. Odd levels duplicate their last node.
type Tree struct {
	Algorithm digest.Algorithm
	Leaves    []Leaf
	Levels    [][]string
	Root      string
}

// Build constructs a tree over entryHashes in chain order. An empty input
// gives an empty Root.
func Build(alg digest.Algorithm, entryHashes []string) (*Tree, error) {
	h, err := digest.New(alg)
	if err != nil {
		return nil, err
	}
	t := &Tree{Algorithm: alg, Leaves: make([]Leaf, len(entryHashes))}
	if len(entryHashes) == 0 {
		return t, nil
	}

	level := make([]string, len(entryHashes))
	for i, eh := range entryHashes {
		if !digest.Valid(alg, eh) {
			return nil, fmt.Errorf("%w: index %d", ErrInvalidLeaf, i)
		}
		lh := leafHash(h, i, eh)
		t.Leaves[i] = Leaf{Index: i, EntryHash: eh, LeafHash: lh}
		level[i] = lh
	}

	for len(level) > 1 {
		t.Levels = append(t.Levels, level)
		level = nextLevel(h, level)
	}
	t.Levels = append(t.Levels, level)
	t.Root = level[0]
	return t, nil
}

func leafHash(h digest.Hasher, index int, entryHash string) string {
	var buf bytes.Buffer
	buf.WriteString(leafPrefix)
	buf.WriteByte(0)
	buf.WriteString(strconv.Itoa(index))
	buf.WriteByte(0)
	buf.Write(hexToBytes(entryHash))
	return h.Sum(buf.Bytes())
}

func nextLevel(h digest.Hasher, hashes []string) []string {
	if len(hashes)%2 != 0 {
		hashes = append(hashes[:len(hashes):len(hashes)], hashes[len(hashes)-1])
	}
	next := make([]string, len(hashes)/2)
	for i := 0; i < len(hashes); i += 2 {
		next[i/2] = nodeHash(h, hashes[i], hashes[i+1])
	}
	return next
}

func nodeHash(h digest.Hasher, left, right string) string {
	var buf bytes.Buffer
	buf.WriteString(nodePrefix)
	buf.WriteByte(0)
	buf.Write(hexToBytes(left))
	buf.Write(hexToBytes(right))
	return h.Sum(buf.Bytes())
}

func hexToBytes(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
