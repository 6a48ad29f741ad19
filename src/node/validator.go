package node

import (
	"crypto/ecdsa"

	"github.com/fieldmesh/fieldmesh/src/crypto"
	"github.com/fieldmesh/fieldmesh/src/crypto/keys"
	"github.com/fieldmesh/fieldmesh/src/peers"
)

//Validator is a wrapper around the private key controlling a node. It
//implements the ledger's Signer interface, and a set of validators backs the
//Verifier used to check other nodes' blocks.
type Validator struct {
	Key     *ecdsa.PrivateKey
	Moniker string

	id       uint32
	pubBytes []byte
	pubHex   string
}

//NewValidator is a factory method for a Validator
func NewValidator(key *ecdsa.PrivateKey, moniker string) *Validator {
	return &Validator{
		Key:     key,
		Moniker: moniker,
	}
}

//ID returns an ID for the validator
func (v *Validator) ID() uint32 {
	if v.id == 0 {
		v.id = keys.PublicKeyID(&v.Key.PublicKey)
	}
	return v.id
}

//PublicKeyBytes returns the validator's public key as a byte array
func (v *Validator) PublicKeyBytes() []byte {
	if len(v.pubBytes) == 0 {
		v.pubBytes = keys.FromPublicKey(&v.Key.PublicKey)
	}
	return v.pubBytes
}

//PublicKeyHex returns the validator's public key as a hex string
func (v *Validator) PublicKeyHex() string {
	if len(v.pubHex) == 0 {
		v.pubHex = keys.PublicKeyHex(&v.Key.PublicKey)
	}
	return v.pubHex
}

//Sign implements the ledger Signer interface. The signature covers the
//SHA256 digest of the data.
func (v *Validator) Sign(data []byte) (string, error) {
	r, s, err := keys.Sign(v.Key, crypto.SHA256(data))
	if err != nil {
		return "", err
	}
	return keys.EncodeSignature(r, s), nil
}

//PeerVerifier implements the ledger Verifier interface on top of a peer set.
//A block signature checks out when it verifies against the public key of the
//peer whose ID matches the block's creator.
type PeerVerifier struct {
	peers *peers.PeerSet
}

//NewPeerVerifier is a factory method for a PeerVerifier
func NewPeerVerifier(peerSet *peers.PeerSet) *PeerVerifier {
	return &PeerVerifier{peers: peerSet}
}

//Verify implements the ledger Verifier interface
func (pv *PeerVerifier) Verify(creator uint32, data []byte, sig string) bool {
	peer, ok := pv.peers.ByID[creator]
	if !ok {
		return false
	}

	pubBytes, err := peer.PubKeyBytes()
	if err != nil {
		return false
	}

	r, s, err := keys.DecodeSignature(sig)
	if err != nil {
		return false
	}

	return keys.Verify(keys.ToPublicKey(pubBytes), crypto.SHA256(data), r, s)
}
