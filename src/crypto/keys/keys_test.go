package keys

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSignVerify(t *testing.T) {
	key, err := GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("hello fieldmesh")

	r, s, err := Sign(key, data)
	if err != nil {
		t.Fatal(err)
	}

	if !Verify(&key.PublicKey, data, r, s) {
		t.Fatal("signature did not verify")
	}

	data[0] ^= 0xff
	if Verify(&key.PublicKey, data, r, s) {
		t.Fatal("signature verified tampered data")
	}
}

func TestEncodeDecodeSignature(t *testing.T) {
	key, err := GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}

	r, s, err := Sign(key, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}

	enc := EncodeSignature(r, s)

	r2, s2, err := DecodeSignature(enc)
	if err != nil {
		t.Fatal(err)
	}

	if r.Cmp(r2) != 0 || s.Cmp(s2) != 0 {
		t.Fatalf("decoded signature mismatch: (%v,%v) != (%v,%v)", r, s, r2, s2)
	}
}

func TestDumpParseRoundTrip(t *testing.T) {
	key, err := GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParsePrivateKey(DumpPrivateKey(key))
	if err != nil {
		t.Fatal(err)
	}

	if key.D.Cmp(parsed.D) != 0 {
		t.Fatal("parsed key D mismatch")
	}
	if !reflect.DeepEqual(FromPublicKey(&key.PublicKey), FromPublicKey(&parsed.PublicKey)) {
		t.Fatal("parsed public key mismatch")
	}
}

func TestSimpleKeyfile(t *testing.T) {
	dir, err := ioutil.TempDir("", "keys")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	keyfile := NewSimpleKeyfile(filepath.Join(dir, "priv_key"))

	key, err := GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}

	if err := keyfile.WriteKey(key); err != nil {
		t.Fatal(err)
	}

	read, err := keyfile.ReadKey()
	if err != nil {
		t.Fatal(err)
	}

	if key.D.Cmp(read.D) != 0 {
		t.Fatal("read key does not match written key")
	}
}
