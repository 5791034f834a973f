package provisioner

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"
)

// CreateKeyScheme selects how the create key of attempt i is derived from the owner's key.
type CreateKeyScheme string

const (
	// SchemeHashed seeds the create key with sha256(owner || domain || attempt).
	SchemeHashed CreateKeyScheme = "hashed"
	// SchemeXOR flips byte attempt%32 of the owner key. Wallets provisioned by the browser client
	// used this scheme.
	SchemeXOR CreateKeyScheme = "xor"
)

const createKeyDomain = "argus/create-key"

func ParseCreateKeyScheme(s string) (CreateKeyScheme, error) {
	switch CreateKeyScheme(s) {
	case SchemeHashed, SchemeXOR:
		return CreateKeyScheme(s), nil
	case "":
		return SchemeHashed, nil
	}
	return "", errors.Errorf("unknown create key scheme %q", s)
}

// DeriveCreateKey returns the signing key whose public key seeds the multisig address of the
// given attempt. The sequence depends only on owner, so provisioning can resume after a crash.
func DeriveCreateKey(scheme CreateKeyScheme, owner solana.PublicKey, attempt int) (solana.PrivateKey, error) {
	if attempt < 0 {
		return nil, errors.Errorf("negative attempt %d", attempt)
	}
	var seed [ed25519.SeedSize]byte
	switch scheme {
	case SchemeXOR:
		copy(seed[:], owner[:])
		seed[attempt%len(seed)] ^= 0xFF
	case SchemeHashed, "":
		h := sha256.New()
		h.Write(owner[:])
		h.Write([]byte(createKeyDomain))
		var n [8]byte
		binary.LittleEndian.PutUint64(n[:], uint64(attempt))
		h.Write(n[:])
		copy(seed[:], h.Sum(nil))
	default:
		return nil, errors.Errorf("unknown create key scheme %q", scheme)
	}
	return solana.PrivateKey(ed25519.NewKeyFromSeed(seed[:])), nil
}
