package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// genkey prints a fresh ADMIN_TOKEN and its SHA-256 fingerprint for secret stores.
//
// Usage:
//
//	go run ./cmd/genkey [bytes]
func main() {
	size := 32
	if len(os.Args) > 1 {
		if _, err := fmt.Sscanf(os.Args[1], "%d", &size); err != nil || size < 16 {
			fmt.Fprintln(os.Stderr, "error: size must be an integer of at least 16")
			os.Exit(1)
		}
	}

	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	token := "chm_" + hex.EncodeToString(raw)
	sum := sha256.Sum256([]byte(token))

	fmt.Printf("ADMIN_TOKEN=%s\nSHA256=%s\n", token, hex.EncodeToString(sum[:]))
}
