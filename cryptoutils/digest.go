package cryptoutils

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// HashAlgorithm names a digest supported by VerifyFileHash.
type HashAlgorithm string

const (
	SHA256     HashAlgorithm = "sha256"
	SHA512     HashAlgorithm = "sha512"
	SHA3_256   HashAlgorithm = "sha3-256"
	BLAKE2b256 HashAlgorithm = "blake2b-256"
)

func newHash(algo HashAlgorithm) (hash.Hash, bool) {
	switch algo {
	case SHA256:
		return sha256.New(), true
	case SHA512:
		return sha512.New(), true
	case SHA3_256:
		return sha3.New256(), true
	case BLAKE2b256:
		h, err := blake2b.New256(nil)
		if err != nil {
			return nil, false
		}
		return h, true
	default:
		return nil, false
	}
}

// ParseExpectedHash splits an expected hash into its algorithm and raw digest.
// The algorithm is taken from an optional "algo:" prefix, otherwise inferred
// from the hex length: 64 characters mean sha256, 128 mean sha512.
// ok is false for anything that is not a well-formed digest.
func ParseExpectedHash(expected string) (algo HashAlgorithm, digest []byte, ok bool) {
	expected = strings.TrimSpace(expected)
	if prefix, rest, found := strings.Cut(expected, ":"); found {
		algo = HashAlgorithm(strings.ToLower(prefix))
		expected = rest
	} else {
		switch len(expected) {
		case sha256.Size * 2:
			algo = SHA256
		case sha512.Size * 2:
			algo = SHA512
		default:
			return "", nil, false
		}
	}

	h, known := newHash(algo)
	if !known {
		return "", nil, false
	}

	digest, err := hex.DecodeString(strings.ToLower(expected))
	if err != nil || len(digest) != h.Size() {
		return "", nil, false
	}
	return algo, digest, true
}

// FileDigest streams the file at path through algo and returns the raw digest.
func FileDigest(path string, algo HashAlgorithm) ([]byte, error) {
	h, ok := newHash(algo)
	if !ok {
		return nil, fmt.Errorf("unsupported hash algorithm %q", algo)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("could not read %s: %w", path, err)
	}
	return h.Sum(nil), nil
}

// VerifyFileHash reports whether the content of path matches expectedHash.
// A mismatch or a malformed expectedHash yields false with a nil error; only
// failures to read the file are returned as errors.
func VerifyFileHash(path, expectedHash string) (bool, error) {
	algo, want, ok := ParseExpectedHash(expectedHash)
	if !ok {
		// The file must still be readable for the result to mean anything.
		f, err := os.Open(path)
		if err != nil {
			return false, fmt.Errorf("could not open %s: %w", path, err)
		}
		f.Close()
		return false, nil
	}

	got, err := FileDigest(path, algo)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
