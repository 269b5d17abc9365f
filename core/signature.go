package core

import (
	"fmt"
	"strings"

	"github.com/ensclub/ens-verify/types"
	"github.com/idena-network/idena-go/common/hexutil"
	"github.com/idena-network/idena-go/crypto"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

const signatureLength = 65

type SignatureVerifier interface {
	// RecoverAddress returns the lower-case hex address that signed message.
	RecoverAddress(message, signature string) (string, error)
}

func NewSignatureVerifier() SignatureVerifier {
	return &personalSignVerifier{}
}

// personalSignVerifier checks signatures made with a wallet's personal message signing.
type personalSignVerifier struct{}

func (v *personalSignVerifier) RecoverAddress(message, signature string) (string, error) {
	signature = strings.TrimSpace(signature)
	if !strings.HasPrefix(signature, "0x") && !strings.HasPrefix(signature, "0X") {
		signature = "0x" + signature
	}
	signatureBytes, err := hexutil.Decode(signature)
	if err != nil {
		return "", errors.Wrapf(types.ErrInvalidSignature, "decode: %v", err)
	}
	if len(signatureBytes) != signatureLength {
		return "", errors.Wrapf(types.ErrInvalidSignature, "length %d", len(signatureBytes))
	}
	// Wallets produce a recovery id of 27 or 28.
	if signatureBytes[64] >= 27 {
		signatureBytes[64] -= 27
	}
	if signatureBytes[64] > 1 {
		return "", errors.Wrapf(types.ErrInvalidSignature, "recovery id %d", signatureBytes[64])
	}
	hash := PersonalMessageHash(message)
	pubKey, err := crypto.Ecrecover(hash, signatureBytes)
	if err != nil {
		return "", errors.Wrapf(types.ErrInvalidSignature, "recover: %v", err)
	}
	addr, err := crypto.PubKeyBytesToAddress(pubKey)
	if err != nil {
		return "", errors.Wrapf(types.ErrInvalidSignature, "address: %v", err)
	}
	return CanonicalAddress(hexutil.Encode(addr[:])), nil
}

// PersonalMessageHash is the Keccak-256 digest wallets sign for a personal message.
func PersonalMessageHash(message string) []byte {
	h := sha3.NewLegacyKeccak256()
	fmt.Fprintf(h, "\x19Ethereum Signed Message:\n%d", len(message))
	h.Write([]byte(message))
	return h.Sum(nil)
}

func CanonicalAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
