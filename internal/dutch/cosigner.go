package dutch

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer wraps a secp256k1 key pair. Used for the cosigner key; the swapper
// key never enters the process.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSignerFromHex creates a Signer from a hex-encoded private key,
// with or without 0x prefix.
func NewSignerFromHex(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to cast public key to ECDSA")
	}

	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
	}, nil
}

// Address returns the Ethereum address derived from the key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignDigest signs a 32-byte digest with the Ethereum signed-message
// prefix applied. Returns a 65-byte [R || S || V] signature with V in
// {27, 28}.
func (s *Signer) SignDigest(digest common.Hash) ([]byte, error) {
	prefixed := accounts.TextHash(digest.Bytes())
	signature, err := crypto.Sign(prefixed, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	if signature[64] < 27 {
		signature[64] += 27
	}
	return signature, nil
}

// CosignatureDigest is the hash the cosigner endorses: the partial-order
// hash bound to the decay commitment. Does not include the cosignature
// itself or the swapper signature.
func CosignatureDigest(order *Order) common.Hash {
	d := order.CosignerData

	var buf []byte
	buf = append(buf, partialOrderDigest(order).Bytes()...)
	buf = append(buf, uint64Word(d.DecayStartTime)...)
	buf = append(buf, uint64Word(d.DecayEndTime)...)
	buf = append(buf, common.LeftPadBytes(d.ExclusiveFiller.Bytes(), 32)...)
	buf = append(buf, bigWord(d.ExclusivityOverrideBps)...)
	buf = append(buf, bigWord(d.InputOverride)...)
	for _, override := range d.OutputOverrides {
		buf = append(buf, bigWord(override)...)
	}
	return crypto.Keccak256Hash(buf)
}

// partialOrderDigest hashes the order fields fixed before cosigning.
func partialOrderDigest(order *Order) common.Hash {
	var buf []byte
	buf = append(buf, common.LeftPadBytes(order.Reactor.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(order.Swapper.Bytes(), 32)...)
	buf = append(buf, bigWord(order.Nonce)...)
	buf = append(buf, uint64Word(order.Deadline)...)
	buf = append(buf, common.LeftPadBytes(order.Cosigner.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(order.Input.Token.Bytes(), 32)...)
	buf = append(buf, bigWord(order.Input.StartAmount)...)
	buf = append(buf, bigWord(order.Input.EndAmount)...)
	for _, out := range order.Outputs {
		buf = append(buf, common.LeftPadBytes(out.Token.Bytes(), 32)...)
		buf = append(buf, bigWord(out.StartAmount)...)
		buf = append(buf, bigWord(out.EndAmount)...)
		buf = append(buf, common.LeftPadBytes(out.Recipient.Bytes(), 32)...)
	}
	return crypto.Keccak256Hash(buf)
}

func uint64Word(v uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), 32)
}

func bigWord(v *big.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	return common.LeftPadBytes(v.Bytes(), 32)
}

// RecoverSigner recovers the address that produced a 65-byte signature over
// the given EIP-712 digest. Accepts V in {0, 1} or {27, 28}.
func RecoverSigner(digest common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}

	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	publicKey, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*publicKey), nil
}
