package ledger

import (
	"bytes"

	"github.com/fieldmesh/fieldmesh/src/clock"
	"github.com/fieldmesh/fieldmesh/src/crypto"
	"github.com/ugorji/go/codec"
)

// Signer is the opaque signing capability a ledger is given. The concrete
// implementation lives with the node's key material.
type Signer interface {
	// Sign returns an encoded signature over data.
	Sign(data []byte) (string, error)
}

// Verifier checks block signatures against a creator's public key.
type Verifier interface {
	// Verify reports whether sig is a valid signature of data by creator.
	Verify(creator uint32, data []byte, sig string) bool
}

// BlockBody groups the fields that are covered by the block hash and the
// signature.
type BlockBody struct {
	Index        int
	PrevHash     string
	Creator      uint32
	Lamport      int
	Vector       clock.VectorClock
	Transactions [][]byte
}

// Block is one link of a node's local chain. Body is immutable once the block
// is appended. BodyHash is the block's own hash, carried alongside the body so
// that validation can recompute and compare it for every block, the tail
// included. SignedBy names the key the signature verifies against when it is
// not the creator's; reconciliation counter-signs re-chained blocks. Both, and
// Superseded, are deliberately kept outside the hashed body.
type Block struct {
	Body       BlockBody
	BodyHash   string
	Signature  string
	SignedBy   uint32 `json:"SignedBy,omitempty"`
	Superseded bool   `json:"Superseded,omitempty"`

	hash string
}

// NewBlock assembles an unsigned block.
func NewBlock(index int, prevHash string, creator uint32, lamport int, vector clock.VectorClock, txs [][]byte) *Block {
	b := &Block{
		Body: BlockBody{
			Index:        index,
			PrevHash:     prevHash,
			Creator:      creator,
			Lamport:      lamport,
			Vector:       vector,
			Transactions: txs,
		},
	}

	if hash, err := b.RecomputeHash(); err == nil {
		b.BodyHash = hash
	}

	return b
}

// Index returns the block's sequence index.
func (b *Block) Index() int {
	return b.Body.Index
}

// PrevHash returns the hash of the predecessor block.
func (b *Block) PrevHash() string {
	return b.Body.PrevHash
}

// Creator returns the ID of the node that created the block.
func (b *Block) Creator() uint32 {
	return b.Body.Creator
}

// Lamport returns the block's Lamport timestamp.
func (b *Block) Lamport() int {
	return b.Body.Lamport
}

// Transactions returns the block's message set.
func (b *Block) Transactions() [][]byte {
	return b.Body.Transactions
}

// Marshal encodes the block body with canonical JSON so that the encoding,
// and therefore the hash, is identical on every node.
func (bb *BlockBody) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(bb); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal decodes a block body produced by Marshal.
func (bb *BlockBody) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(bb)
}

// Hash returns the hex SHA256 of the canonical body encoding. The value is
// cached; blocks are immutable once appended.
func (b *Block) Hash() (string, error) {
	if b.hash == "" {
		return b.RecomputeHash()
	}
	return b.hash, nil
}

// RecomputeHash hashes the body unconditionally, bypassing the cache.
// Validation uses this so that a tampered body can never hide behind a stale
// cached hash.
func (b *Block) RecomputeHash() (string, error) {
	hashBytes, err := b.Body.Marshal()
	if err != nil {
		return "", err
	}
	b.hash = crypto.SHA256Hex(hashBytes)
	return b.hash, nil
}

// PayloadHash returns the hex SHA256 over the block's message set only.
func (b *Block) PayloadHash() (string, error) {
	buf := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(buf, jh)
	if err := enc.Encode(b.Body.Transactions); err != nil {
		return "", err
	}
	return crypto.SHA256Hex(buf.Bytes()), nil
}

// Sign signs the block body and attaches the signature.
func (b *Block) Sign(signer Signer) error {
	signBytes, err := b.Body.Marshal()
	if err != nil {
		return err
	}

	sig, err := signer.Sign(crypto.SHA256(signBytes))
	if err != nil {
		return err
	}

	b.Signature = sig

	return nil
}

// Verify checks the block's signature. A block is normally signed by its
// creator; a re-chained block carries the reconciler's counter-signature and
// names the countersigner in SignedBy.
func (b *Block) Verify(verifier Verifier) (bool, error) {
	signBytes, err := b.Body.Marshal()
	if err != nil {
		return false, err
	}

	signer := b.Body.Creator
	if b.SignedBy != 0 {
		signer = b.SignedBy
	}

	return verifier.Verify(signer, crypto.SHA256(signBytes), b.Signature), nil
}
