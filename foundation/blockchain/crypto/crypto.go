// Package crypto provides the signature scheme, content hashing, and address
// derivation used across the blockchain. Every node must agree byte-for-byte
// on the canonical encoding this package produces since it is load-bearing
// for cross-node signature verification.
package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/asn1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AddressLength is the number of bytes in an address.
const AddressLength = 20

// ZeroHash is the hex representation of a 32 byte all-zero digest, used as
// the previous hash of the genesis block and the Merkle root of an empty
// leaf set.
const ZeroHash = "0x0000000000000000000000000000000000000000000000000000000000000000"

// Address identifies an account or node inside the ledger. It is the first
// AddressLength bytes of hash(DER(publicKey)), lowercase hex encoded.
type Address string

// Signature is a detached Ed25519 signature, base64 encoded on the wire by
// the standard library json.Marshal of a []byte.
type Signature []byte

// PublicKey is a raw Ed25519 public key.
type PublicKey ed25519.PublicKey

// PrivateKey is a raw Ed25519 private key.
type PrivateKey ed25519.PrivateKey

// GenerateKeyPair constructs a new Ed25519 signing key pair.
func GenerateKeyPair() (PublicKey, PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating key pair: %w", err)
	}
	return PublicKey(pub), PrivateKey(priv), nil
}

// Sign produces a detached signature over the given bytes using sk.
func Sign(sk PrivateKey, data []byte) Signature {
	return Signature(ed25519.Sign(ed25519.PrivateKey(sk), data))
}

// Verify reports whether sig is a valid Ed25519 signature over data under pk.
// It never panics: a malformed key or signature simply verifies false.
func Verify(pk PublicKey, data []byte, sig Signature) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if len(pk) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}

	return ed25519.Verify(ed25519.PublicKey(pk), data, []byte(sig))
}

// Hash returns the SHA-256 digest of data.
func Hash(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// HashHex returns the lowercase hex encoding of Hash(data), 0x prefixed.
func HashHex(data []byte) string {
	h := Hash(data)
	return hexutil.Encode(h[:])
}

// DER returns the DER encoding of an Ed25519 public key, matching the
// encoding used by crypto/x509's SubjectPublicKeyInfo for Ed25519 keys
// without pulling in the full x509 machinery.
func DER(pk PublicKey) ([]byte, error) {
	type algorithmIdentifier struct {
		Algorithm asn1.ObjectIdentifier
	}
	type publicKeyInfo struct {
		Algorithm algorithmIdentifier
		PublicKey asn1.BitString
	}

	oidEd25519 := asn1.ObjectIdentifier{1, 3, 101, 112}

	info := publicKeyInfo{
		Algorithm: algorithmIdentifier{Algorithm: oidEd25519},
		PublicKey: asn1.BitString{Bytes: pk, BitLength: len(pk) * 8},
	}

	return asn1.Marshal(info)
}

// AddressOf derives the 20-byte address for a public key: the first
// AddressLength bytes of hash(DER(pk)), lowercase hex encoded.
func AddressOf(pk PublicKey) (Address, error) {
	der, err := DER(pk)
	if err != nil {
		return "", fmt.Errorf("deriving address: %w", err)
	}

	digest := Hash(der)
	return Address(hexHexLower(digest[:AddressLength])), nil
}

func hexHexLower(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}

// Coinbase is the sentinel "from" address permitted only on minting
// transactions.
const Coinbase Address = "coinbase"

// SaveKey writes sk to path as a hex-encoded seed. Any missing parent
// directory is created.
func SaveKey(path string, sk PrivateKey) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
	}

	seed := ed25519.PrivateKey(sk).Seed()
	return os.WriteFile(path, []byte(hex.EncodeToString(seed)), 0600)
}

// LoadKey reads a hex-encoded Ed25519 seed from path and expands it back
// into a full key pair.
func LoadKey(path string) (PublicKey, PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading key file: %w", err)
	}

	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, nil, fmt.Errorf("decoding key file: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, nil, fmt.Errorf("key file has wrong seed size: got %d want %d", len(seed), ed25519.SeedSize)
	}

	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return PublicKey(pub), PrivateKey(priv), nil
}

// =============================================================================
// Canonical encoding.

// Canonicalize converts an arbitrary JSON-ish value tree (as produced by
// json.Unmarshal into any, or by round-tripping a struct through
// json.Marshal/Unmarshal) into a canonical byte form: object keys sorted
// lexicographically, numbers rendered as decimal without insignificant
// digits, strings UTF-8, no insignificant whitespace. Every implementation
// in every language must agree byte-for-byte with this encoding since it
// underlies hashCanonical and therefore every signature in the system.
func Canonicalize(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		encodeCanonicalString(buf, v)
	case float64:
		encodeCanonicalNumber(buf, v)
	case []any:
		buf.WriteByte('[')
		for i, elem := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeCanonicalString(buf, k)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonicalize: unsupported type %T", value)
	}

	return nil
}

func encodeCanonicalString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
}

// encodeCanonicalNumber renders a float64 as decimal without trailing zeros
// or a trailing decimal point, matching JSON's number grammar.
func encodeCanonicalNumber(buf *bytes.Buffer, f float64) {
	s := fmt.Sprintf("%.17g", f)
	if i := int64(f); float64(i) == f {
		s = fmt.Sprintf("%d", i)
	}
	buf.WriteString(s)
}

// HashCanonical serializes value to JSON, re-parses it into the generic
// any-tree, re-serializes it canonically via Canonicalize, and hashes the
// result with SHA-256. This is the single hashing function used for every
// structural hash in the system (block hash, transaction hash, receipt
// hash, state-root leaves) so that signatures verify identically across
// independent implementations.
func HashCanonical(marshal func() ([]byte, error)) ([32]byte, error) {
	raw, err := marshal()
	if err != nil {
		return [32]byte{}, err
	}

	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return [32]byte{}, err
	}

	canon, err := Canonicalize(tree)
	if err != nil {
		return [32]byte{}, err
	}

	return Hash(canon), nil
}

// ConstantTimeEqual reports whether a and b are equal using a constant-time
// comparison, suitable for comparing digests or signatures.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
