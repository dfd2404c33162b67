package merkle

import (
	"github.com/Mindburn-Labs/helm-ledger/pkg/digest"
)

// Sibling sides in a proof step.
const (
	SideLeft  = "L"
	SideRight = "R"
)

type InclusionProof struct {
	Algorithm  digest.Algorithm `json:"algorithm"`
	LeafIndex  int              `json:"leaf_index"`
	EntryHash  string           `json:"entry_hash"`
	LeafHash   string           `json:"leaf_hash"`
	MerkleRoot string           `json:"merkle_root"`
	ProofPath  []ProofStep      `json:"proof_path"`
}

type ProofStep struct {
	Side        string `json:"side"`
	SiblingHash string `json:"sibling_hash"`
}

// Proof returns the inclusion proof for the entry at index.
func (t *Tree) Proof(index int) (*InclusionProof, error) {
	if len(t.Leaves) == 0 {
		return nil, ErrEmptyTree
	}
	if index < 0 || index >= len(t.Leaves) {
		return nil, ErrOutOfRange
	}

	p := &InclusionProof{
		Algorithm:  t.Algorithm,
		LeafIndex:  index,
		EntryHash:  t.Leaves[index].EntryHash,
		LeafHash:   t.Leaves[index].LeafHash,
		MerkleRoot: t.Root,
		ProofPath:  []ProofStep{},
	}
	pos := index
	for _, level := range t.Levels[:len(t.Levels)-1] {
		var step ProofStep
		if pos%2 == 0 {
			sib := pos + 1
			if sib >= len(level) {
				sib = pos
			}
			step = ProofStep{Side: SideRight, SiblingHash: level[sib]}
		} else {
			step = ProofStep{Side: SideLeft, SiblingHash: level[pos-1]}
		}
		p.ProofPath = append(p.ProofPath, step)
		pos /= 2
	}
	return p, nil
}

// VerifyProof recomputes the leaf from the entry hash and walks the path.
// A non-empty trustedRoot must equal the proof's root.
func VerifyProof(p InclusionProof, trustedRoot string) bool {
	if trustedRoot != "" && p.MerkleRoot != trustedRoot {
		return false
	}
	h, err := digest.New(p.Algorithm)
	if err != nil || !digest.Valid(p.Algorithm, p.EntryHash) {
		return false
	}
	current := leafHash(h, p.LeafIndex, p.EntryHash)
	if current != p.LeafHash {
		return false
	}
	for _, step := range p.ProofPath {
		switch step.Side {
		case SideLeft:
			current = nodeHash(h, step.SiblingHash, current)
		case SideRight:
			current = nodeHash(h, current, step.SiblingHash)
		default:
			return false
		}
	}
	return current == p.MerkleRoot
}
