package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"

	"orderflow/internal/dutch"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Development helper for exercising the submit endpoint without a wallet:
// reads a create-order response from stdin (or a file), signs its typed data
// with SIGNER_PRIVATE_KEY, and prints the submit request body.
func main() {
	inputPath := flag.String("in", "", "path to a create-order response (default stdin)")
	flag.Parse()

	godotenv.Load()

	keyHex := os.Getenv("SIGNER_PRIVATE_KEY")
	if keyHex == "" {
		log.Fatal("SIGNER_PRIVATE_KEY is required")
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		log.Fatalf("Failed to parse private key: %v", err)
	}

	var raw []byte
	if *inputPath != "" {
		raw, err = os.ReadFile(*inputPath)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		log.Fatalf("Failed to read input: %v", err)
	}

	var resp struct {
		OrderID  string                 `json:"orderId"`
		SignData *dutch.SignablePayload `json:"signData"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		log.Fatalf("Failed to parse create-order response: %v", err)
	}
	if resp.OrderID == "" || resp.SignData == nil {
		log.Fatal("Input must contain orderId and signData")
	}

	typedData := apitypes.TypedData{
		Types:       resp.SignData.Types,
		PrimaryType: resp.SignData.PrimaryType,
		Domain:      resp.SignData.Domain,
		Message:     resp.SignData.Values,
	}

	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		log.Fatalf("Failed to hash typed data: %v", err)
	}

	signature, err := crypto.Sign(digest, privateKey)
	if err != nil {
		log.Fatalf("Failed to sign: %v", err)
	}
	signature[64] += 27

	signer := crypto.PubkeyToAddress(privateKey.PublicKey)
	fmt.Fprintf(os.Stderr, "Signer: %s\n", signer.Hex())
	fmt.Fprintf(os.Stderr, "Digest: %s\n", hexutil.Encode(digest))

	body, err := json.MarshalIndent(map[string]string{
		"orderId":        resp.OrderID,
		"orderSignature": hexutil.Encode(signature),
	}, "", "  ")
	if err != nil {
		log.Fatalf("Failed to marshal submit body: %v", err)
	}

	fmt.Println(string(body))
}
