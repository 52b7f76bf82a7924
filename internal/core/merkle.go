package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
)

// ProofStep is one sibling on the path from an entry leaf to the batch root.
// Side "L" means sha256(sibling || current), "R" means sha256(current || sibling).
type ProofStep struct {
	Hash string `json:"hash"`
	Side string `json:"side"`
}

// Digest is the merkle summary of a delivered batch.
type Digest struct {
	Root   string        `json:"root"`
	Leaves int           `json:"leaves"`
	Proofs [][]ProofStep `json:"proofs,omitempty"`
}

// EntryLeaf hashes the canonical JSON encoding of an entry.
func EntryLeaf(entry TimingEntry) ([]byte, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding entry %q", entry.Name)
	}
	sum := sha256.Sum256(raw)
	return sum[:], nil
}

// DigestBatch computes the merkle root and one inclusion proof per entry.
func DigestBatch(entries []TimingEntry) (Digest, error) {
	if len(entries) == 0 {
		return Digest{}, errors.New("empty batch")
	}
	leaves := make([][]byte, 0, len(entries))
	for _, entry := range entries {
		leaf, err := EntryLeaf(entry)
		if err != nil {
			return Digest{}, err
		}
		leaves = append(leaves, leaf)
	}

	levels := buildLevels(leaves)
	digest := Digest{
		Root:   hex.EncodeToString(levels[len(levels)-1][0]),
		Leaves: len(leaves),
		Proofs: make([][]ProofStep, len(leaves)),
	}
	for i := range leaves {
		digest.Proofs[i] = proofFor(levels, i)
	}
	return digest, nil
}

// buildLevels returns every tree level, leaves first. An odd node is paired
// with itself.
func buildLevels(leaves [][]byte) [][][]byte {
	levels := [][][]byte{leaves}
	for {
		curr := levels[len(levels)-1]
		if len(curr) == 1 {
			return levels
		}
		next := make([][]byte, 0, (len(curr)+1)/2)
		for i := 0; i < len(curr); i += 2 {
			right := curr[i]
			if i+1 < len(curr) {
				right = curr[i+1]
			}
			next = append(next, hashPair(curr[i], right))
		}
		levels = append(levels, next)
	}
}

func proofFor(levels [][][]byte, index int) []ProofStep {
	proof := make([]ProofStep, 0, len(levels)-1)
	for lvl := 0; lvl < len(levels)-1; lvl++ {
		nodes := levels[lvl]
		sibling, side := index+1, "R"
		if index%2 == 1 {
			sibling, side = index-1, "L"
		}
		if sibling >= len(nodes) {
			sibling = index
		}
		proof = append(proof, ProofStep{Hash: hex.EncodeToString(nodes[sibling]), Side: side})
		index /= 2
	}
	return proof
}

func hashPair(left, right []byte) []byte {
	buf := make([]byte, 0, len(left)+len(right))
	buf = append(buf, left...)
	buf = append(buf, right...)
	sum := sha256.Sum256(buf)
	return sum[:]
}

// VerifyEntry reports whether entry is included under rootHex via proof.
func VerifyEntry(entry TimingEntry, proof []ProofStep, rootHex string) (bool, error) {
	root, err := hex.DecodeString(rootHex)
	if err != nil {
		return false, errors.Wrap(err, "invalid root encoding")
	}
	curr, err := EntryLeaf(entry)
	if err != nil {
		return false, err
	}
	for _, step := range proof {
		sibling, err := hex.DecodeString(step.Hash)
		if err != nil {
			return false, errors.Wrap(err, "invalid proof hash encoding")
		}
		switch step.Side {
		case "L":
			curr = hashPair(sibling, curr)
		case "R":
			curr = hashPair(curr, sibling)
		default:
			return false, errors.Errorf("invalid proof side %q", step.Side)
		}
	}
	return bytes.Equal(curr, root), nil
}
