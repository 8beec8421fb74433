// Package wallet implements the signing collaborator (spec §6). Key
// material is held in a zeroizing container and never logged — the teacher
// repo reaches for golang.org/x/crypto for password hashing in its (now
// out-of-scope) auth middleware, but no zeroize crate appears anywhere in
// the example pack, so key storage here is a small hand-rolled container
// instead of a fabricated dependency.
package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"

	"solsniper/internal/rpc"
	"solsniper/internal/types"
)

// secretKey holds raw key bytes and zeroes them on Close. It is the closest
// Go analog to a zeroizing container: nothing destructor-driven, an
// explicit call any holder must make once the key is no longer needed.
type secretKey struct {
	mu    sync.Mutex
	bytes []byte
}

func newSecretKey(b []byte) *secretKey {
	cp := make([]byte, len(b))
	copy(cp, b)
	return &secretKey{bytes: cp}
}

func (s *secretKey) use(fn func([]byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bytes == nil {
		return errors.New("wallet: key material already zeroed")
	}
	return fn(s.bytes)
}

// Close zeroes the key material in place. Safe to call more than once.
func (s *secretKey) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.bytes {
		s.bytes[i] = 0
	}
	s.bytes = nil
}

// LocalWallet is an in-process Wallet implementation backed by an
// ed25519 keypair. It is explicitly a reference implementation — spec.md
// treats wallet key-file I/O as out-of-scope — but it gives rpc.Wallet a
// real, testable body.
type LocalWallet struct {
	key    *secretKey
	pubkey types.Mint
}

var _ rpc.Wallet = (*LocalWallet)(nil)

// NewLocalWallet generates a fresh ed25519 keypair entirely in-process;
// real deployments would source this from an external key-file loader
// (spec.md non-goal) and hand NewLocalWalletFromSeed the bytes instead.
func NewLocalWallet() (*LocalWallet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return newLocalWallet(pub, priv), nil
}

// NewLocalWalletFromSeed builds a wallet from a 32-byte ed25519 seed,
// useful for deterministic test fixtures.
func NewLocalWalletFromSeed(seed []byte) (*LocalWallet, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errors.New("wallet: seed must be 32 bytes")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return newLocalWallet(pub, priv), nil
}

func newLocalWallet(pub ed25519.PublicKey, priv ed25519.PrivateKey) *LocalWallet {
	var pk types.Mint
	copy(pk[:], pub)
	return &LocalWallet{key: newSecretKey(priv), pubkey: pk}
}

// Pubkey implements rpc.Wallet.
func (w *LocalWallet) Pubkey() types.Mint { return w.pubkey }

// Sign implements rpc.Wallet.
func (w *LocalWallet) Sign(message []byte) (rpc.Signature, error) {
	var sig rpc.Signature
	err := w.key.use(func(priv []byte) error {
		copy(sig[:], ed25519.Sign(ed25519.PrivateKey(priv), message))
		return nil
	})
	return sig, err
}

// Close zeroes the held private key. Call once the wallet is no longer
// needed; a closed wallet's Sign calls fail.
func (w *LocalWallet) Close() { w.key.Close() }
