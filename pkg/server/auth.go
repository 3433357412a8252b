package server

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Signed-request headers. The caller signs the raw request body with the
// ed25519 key whose base58 public key it presents; the verified key is the
// principal the engine authorizes against.
const (
	HeaderCaller    = "X-Dispenser-Caller"
	HeaderSignature = "X-Dispenser-Signature"
)

const maxBodyBytes = 1 << 20 // 1MB

// readSignedBody reads the request body and verifies the caller's signature
// over it. Returns the verified caller and the body bytes.
func readSignedBody(r *http.Request) (solana.PublicKey, []byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("failed to read request body: %w", err)
	}

	callerHeader := r.Header.Get(HeaderCaller)
	if callerHeader == "" {
		return solana.PublicKey{}, nil, fmt.Errorf("missing %s header", HeaderCaller)
	}
	sigHeader := r.Header.Get(HeaderSignature)
	if sigHeader == "" {
		return solana.PublicKey{}, nil, fmt.Errorf("missing %s header", HeaderSignature)
	}

	ok, err := verifyEd25519Signature(callerHeader, body, sigHeader)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	if !ok {
		return solana.PublicKey{}, nil, fmt.Errorf("signature verification failed")
	}

	caller, err := solana.PublicKeyFromBase58(callerHeader)
	if err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("failed to decode caller public key: %w", err)
	}
	return caller, body, nil
}

// verifyEd25519Signature verifies an Ed25519 signature over message with a
// base58 public key and base64 signature.
func verifyEd25519Signature(publicKeyBase58 string, message []byte, signatureBase64 string) (bool, error) {
	publicKeyBytes, err := base58.Decode(publicKeyBase58)
	if err != nil {
		return false, fmt.Errorf("failed to decode public key: %w", err)
	}
	if len(publicKeyBytes) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size: expected %d, got %d", ed25519.PublicKeySize, len(publicKeyBytes))
	}

	signatureBytes, err := base64.StdEncoding.DecodeString(signatureBase64)
	if err != nil {
		// Try URL-safe base64
		signatureBytes, err = base64.URLEncoding.DecodeString(signatureBase64)
		if err != nil {
			return false, fmt.Errorf("failed to decode signature: %w", err)
		}
	}
	if len(signatureBytes) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid signature size: expected %d, got %d", ed25519.SignatureSize, len(signatureBytes))
	}

	return ed25519.Verify(ed25519.PublicKey(publicKeyBytes), message, signatureBytes), nil
}
