package main

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"PayStream/internal/validation"
)

// Config holds the payctl configuration.
type Config struct {
	// CachePath is the directory for the local replica cache.
	CachePath string

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string

	// PrivateKey is the account's Ed25519 signing key.
	PrivateKey ed25519.PrivateKey

	// ValidatorsPath is the path to the validator list file.
	ValidatorsPath string

	// Validators is the parsed payment section.
	Validators []*validation.ValidatorInfo

	// PaymentKey is the hex key write payments go to.
	PaymentKey [32]byte

	// WritePrice is the cost of one mutation.
	WritePrice uint64

	// Verbose enables debug logging.
	Verbose bool

	// Args are the remaining subcommand arguments.
	Args []string
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.CachePath, "cache", "./cache", "Replica cache directory")
	flag.StringVar(&cfg.KeyPath, "key", "", "Ed25519 private key path (generates new if missing)")
	flag.StringVar(&cfg.ValidatorsPath, "validators", "./validators.txt", "Validator list file")
	flag.Uint64Var(&cfg.WritePrice, "write-price", 1, "Cost of one mutation")
	flag.BoolVar(&cfg.Verbose, "v", false, "Debug logging")
	paymentKey := flag.String("payment-key", "", "Hex key write payments go to")
	flag.Parse()

	cfg.Args = flag.Args()

	if *paymentKey != "" {
		key, err := parseHexKey(*paymentKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad payment key: %v\n", err)
			os.Exit(1)
		}
		cfg.PaymentKey = key
	}

	return cfg
}

// loadValidators reads the validator list. Each non-empty line holds
// three space-separated fields: ed25519 pubkey hex, BLS pubkey hex and
// network address.
func loadValidators(path string) ([]*validation.ValidatorInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open validators file:\n%w", err)
	}
	defer f.Close()

	var validators []*validation.ValidatorInfo

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("bad validator line: %q", line)
		}

		id, err := parseHexKey(fields[0])
		if err != nil {
			return nil, fmt.Errorf("bad validator id %q:\n%w", fields[0], err)
		}

		blsKey, err := hex.DecodeString(fields[1])
		if err != nil || len(blsKey) != validation.BLSPublicKeySize {
			return nil, fmt.Errorf("bad validator BLS key %q", fields[1])
		}

		info := &validation.ValidatorInfo{ID: id, Addr: fields[2]}
		copy(info.BLSPublicKey[:], blsKey)
		validators = append(validators, info)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read validators file:\n%w", err)
	}

	if len(validators) == 0 {
		return nil, fmt.Errorf("no validators in %s", path)
	}

	return validators, nil
}

// parseHexKey parses a 32-byte hex key.
func parseHexKey(s string) ([32]byte, error) {
	var key [32]byte

	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, err
	}

	if len(raw) != 32 {
		return key, fmt.Errorf("key is %d bytes, want 32", len(raw))
	}

	copy(key[:], raw)

	return key, nil
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return generateNewKey()
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateNewKey creates a new Ed25519 private key.
func generateNewKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	priv, err := generateNewKey()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return priv, nil
}
