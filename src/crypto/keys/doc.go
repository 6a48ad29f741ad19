// Package keys implements the public key cryptography used by fieldmesh
// nodes.
//
// Every node owns an ECDSA key-pair on the secp256k1 curve. The private key
// signs ledger blocks and the public key lets other nodes verify them. The
// ledger itself treats signing as an opaque capability; this package is the
// concrete provider.
package keys
