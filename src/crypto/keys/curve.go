package keys

import (
	"crypto/elliptic"

	"github.com/btcsuite/btcd/btcec"
)

// Curve returns the elliptic.Curve used for all fieldmesh keys. We use
// btcsuite's implementation of secp256k1, the curve used by Bitcoin and
// Ethereum, so existing keys from those ecosystems can operate a node.
func Curve() elliptic.Curve {
	return btcec.S256()
}
