// Package signature mints and verifies electronic signatures over approval
// documents.
package signature

import (
	"context"
	"time"

	"github.com/liamcoop/torquesign/errdefs"
)

var (
	ErrSignatureNotFound = errdefs.New(errdefs.ErrNotFound, "signature not found")
	ErrInvalidRequest    = errdefs.New(errdefs.ErrInvalidInput, "invalid signature request")
)

type Type string

const (
	TypeApproval  Type = "APPROVAL"
	TypeReview    Type = "REVIEW"
	TypeWitness   Type = "WITNESS"
	TypeRejection Type = "REJECTION"
)

func (t Type) Valid() bool {
	switch t {
	case TypeApproval, TypeReview, TypeWitness, TypeRejection:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusRejected  Status = "REJECTED"
)

// Signature is an immutable signing record. Hash is the hex SHA-256 of the
// signed payload and Value the Ed25519 signature over it.
type Signature struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	SignerID   string    `json:"signerId"`
	SignerName string    `json:"signerName,omitempty"`
	Role       string    `json:"role"`
	Type       Type      `json:"type"`
	Reason     string    `json:"reason,omitempty"`
	Status     Status    `json:"status"`
	Hash       string    `json:"hash"`
	Value      []byte    `json:"value"`
	KeyID      string    `json:"keyId"`
	SignedAt   time.Time `json:"signedAt"`
}

type Request struct {
	DocumentID string
	SignerID   string
	SignerName string
	Role       string
	Type       Type
	Reason     string
}

// Service creates signatures. Implementations may call remote systems and
// are invoked without any workflow lock held.
type Service interface {
	CreateSignature(ctx context.Context, req Request) (Signature, error)
	GetSignature(ctx context.Context, id string) (Signature, error)
}
