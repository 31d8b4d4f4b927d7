package calypso

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// KnownKeysVersion identifies the revision of the built-in key table.
const KnownKeysVersion = 1

// CorpusKey is one candidate key of a recovery corpus.
type CorpusKey struct {
	Index int // position in the corpus
	Label string
	Key   [KeySize]byte
}

// KeyFile represents a key loaded from a .hex file.
type KeyFile struct {
	Name string // File name (e.g., "issuer.hex")
	Key  []byte // 16-byte key
}

func mustKey(s string) [KeySize]byte {
	var k [KeySize]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != KeySize {
		panic("calypso: bad built-in key " + s)
	}
	copy(k[:], b)
	return k
}

// Built-in keys: factory defaults, test-kit samples and common patterns.
var knownKeys = []struct {
	label string
	key   [KeySize]byte
}{
	{"default 3DES (all zero)", mustKey("00000000000000000000000000000000")},
	{"all FF", mustKey("FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF")},
	{"default AES (sequential)", mustKey("000102030405060708090A0B0C0D0E0F")},
	{"sequential nibbles", mustKey("00112233445566778899AABBCCDDEEFF")},
	{"ISO test key 40..4F", mustKey("404142434445464748494A4B4C4D4E4F")},
	{"MIFARE-style A0..AF", mustKey("A0A1A2A3A4A5A6A7A8A9AAABACADAEAF")},
	{"MIFARE-style B0..BF", mustKey("B0B1B2B3B4B5B6B7B8B9BABBBCBDBEBF")},
	{"NFC Forum D3F7", mustKey("D3F7D3F7D3F7D3F7D3F7D3F7D3F7D3F7")},
	{"DES parity pattern", mustKey("0101010101010101FEFEFEFEFEFEFEFE")},
	{"Navigo sample", mustKey("4E617669676F5361706C654B65793031")},
}

// KnownKeys returns a fresh copy of the built-in key table.
func KnownKeys() []CorpusKey {
	out := make([]CorpusKey, len(knownKeys))
	for i, k := range knownKeys {
		out[i] = CorpusKey{Index: i, Label: k.label, Key: k.key}
	}
	return out
}

// CorpusFromKeyFiles converts loaded key files to corpus entries labelled
// with their file name.
func CorpusFromKeyFiles(files []KeyFile) []CorpusKey {
	out := make([]CorpusKey, 0, len(files))
	for i, f := range files {
		if len(f.Key) != KeySize {
			continue
		}
		ck := CorpusKey{Index: i, Label: f.Name}
		copy(ck.Key[:], f.Key)
		out = append(out, ck)
	}
	return out
}

// BuildCorpus concatenates key sets in order and renumbers the result.
func BuildCorpus(sets ...[]CorpusKey) []CorpusKey {
	var out []CorpusKey
	for _, set := range sets {
		for _, k := range set {
			k.Index = len(out)
			out = append(out, k)
		}
	}
	return out
}

// ParseHexKey decodes a 32-character hex key, ignoring surrounding spaces.
func ParseHexKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) != 2*KeySize {
		return nil, fmt.Errorf("key must be %d hex chars, got %d", 2*KeySize, len(s))
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex key: %v", err)
	}
	return key, nil
}

// LoadKeyHexFile loads a 16-byte key from a .hex file.
// The file should contain a single line with 32 hexadecimal characters.
// Lines starting with '#' are comments.
func LoadKeyHexFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return ParseHexKey(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("key file is empty")
}

// LoadAllHexKeys loads all .hex key files from a directory, sorted by name.
// Skips invalid files silently.
func LoadAllHexKeys(dir string) ([]KeyFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var keys []KeyFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(e.Name())) != ".hex" {
			continue
		}

		path := filepath.Join(dir, e.Name())
		key, err := LoadKeyHexFile(path)
		if err != nil {
			continue // Skip invalid key files
		}

		keys = append(keys, KeyFile{
			Name: e.Name(),
			Key:  key,
		})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name < keys[j].Name })
	return keys, nil
}
