package signature

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalService signs in-process with an Ed25519 key and keeps signatures in
// memory. Intended for development and single-node deployments.
type LocalService struct {
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	keyID string
	now   func() time.Time

	mu         sync.RWMutex
	signatures map[string]Signature
}

// NewLocalService generates a fresh keypair
func NewLocalService(keyID string) *LocalService {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	return newLocalService(keyID, priv, pub)
}

// NewLocalServiceFromSeed loads a key from a base64 encoded 32 byte seed
func NewLocalServiceFromSeed(keyID, seedB64 string) (*LocalService, error) {
	seed, err := base64.StdEncoding.DecodeString(seedB64)
	if err != nil {
		return nil, fmt.Errorf("decode signer seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signer seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return newLocalService(keyID, priv, priv.Public().(ed25519.PublicKey)), nil
}

func newLocalService(keyID string, priv ed25519.PrivateKey, pub ed25519.PublicKey) *LocalService {
	return &LocalService{
		priv:       priv,
		pub:        pub,
		keyID:      keyID,
		now:        time.Now,
		signatures: make(map[string]Signature),
	}
}

// payload is the canonical content that gets hashed and signed
type payload struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	SignerID   string    `json:"signerId"`
	Role       string    `json:"role"`
	Type       Type      `json:"type"`
	Reason     string    `json:"reason,omitempty"`
	SignedAt   time.Time `json:"signedAt"`
}

func (p payload) digest() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(b)
	return sum[:], nil
}

func (s *LocalService) CreateSignature(ctx context.Context, req Request) (Signature, error) {
	if err := ctx.Err(); err != nil {
		return Signature{}, err
	}
	switch {
	case req.DocumentID == "":
		return Signature{}, fmt.Errorf("document id required: %w", ErrInvalidRequest)
	case req.SignerID == "":
		return Signature{}, fmt.Errorf("signer id required: %w", ErrInvalidRequest)
	case !req.Type.Valid():
		return Signature{}, fmt.Errorf("signature type %q: %w", req.Type, ErrInvalidRequest)
	case req.Type == TypeRejection && req.Reason == "":
		return Signature{}, fmt.Errorf("rejection requires a reason: %w", ErrInvalidRequest)
	}

	p := payload{
		ID:         uuid.NewString(),
		DocumentID: req.DocumentID,
		SignerID:   req.SignerID,
		Role:       req.Role,
		Type:       req.Type,
		Reason:     req.Reason,
		SignedAt:   s.now().UTC(),
	}
	hash, err := p.digest()
	if err != nil {
		return Signature{}, fmt.Errorf("hash signature payload: %w", err)
	}

	status := StatusCompleted
	if req.Type == TypeRejection {
		status = StatusRejected
	}
	sig := Signature{
		ID:         p.ID,
		DocumentID: p.DocumentID,
		SignerID:   p.SignerID,
		SignerName: req.SignerName,
		Role:       p.Role,
		Type:       p.Type,
		Reason:     p.Reason,
		Status:     status,
		Hash:       hex.EncodeToString(hash),
		Value:      ed25519.Sign(s.priv, hash),
		KeyID:      s.keyID,
		SignedAt:   p.SignedAt,
	}

	s.mu.Lock()
	s.signatures[sig.ID] = sig
	s.mu.Unlock()
	return sig, nil
}

func (s *LocalService) GetSignature(ctx context.Context, id string) (Signature, error) {
	if err := ctx.Err(); err != nil {
		return Signature{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sig, ok := s.signatures[id]
	if !ok {
		return Signature{}, fmt.Errorf("signature %s: %w", id, ErrSignatureNotFound)
	}
	return sig, nil
}

// Verify recomputes the payload hash and checks the Ed25519 signature
func (s *LocalService) Verify(sig Signature) bool {
	hash, err := payload{
		ID:         sig.ID,
		DocumentID: sig.DocumentID,
		SignerID:   sig.SignerID,
		Role:       sig.Role,
		Type:       sig.Type,
		Reason:     sig.Reason,
		SignedAt:   sig.SignedAt,
	}.digest()
	if err != nil || hex.EncodeToString(hash) != sig.Hash {
		return false
	}
	return ed25519.Verify(s.pub, hash, sig.Value)
}

func (s *LocalService) PublicKey() []byte {
	return s.pub
}
