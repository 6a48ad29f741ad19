package fieldmesh

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"path"

	"github.com/fieldmesh/fieldmesh/src/crypto/keys"
)

// Keygen generates a new ECDSA key pair and writes the private key to
// keyfile. It refuses to overwrite an existing key.
func Keygen(keyfile string) (*ecdsa.PrivateKey, error) {
	if _, err := os.Stat(keyfile); err == nil {
		return nil, fmt.Errorf("another key already lives under %s", path.Dir(keyfile))
	}

	privKey, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(path.Dir(keyfile), 0700); err != nil {
		return nil, err
	}

	simpleKeyfile := keys.NewSimpleKeyfile(keyfile)

	if err := simpleKeyfile.WriteKey(privKey); err != nil {
		return nil, err
	}

	return privKey, nil
}
