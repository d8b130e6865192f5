package crypto

import (
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Pseudonymizer replaces patient and session identifiers with stable keyed
// digests so that log lines can be correlated without exposing PHI.
type Pseudonymizer struct {
	key []byte
}

// NewPseudonymizer derives the hashing key from master. A nil master gets a
// random per-process key, which keeps tokens stable only until restart.
func NewPseudonymizer(master []byte) (*Pseudonymizer, error) {
	if master == nil {
		master = GenerateKey()
	}
	if len(master) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	key, err := DeriveKey(master, "mindgate-log-pseudonym")
	if err != nil {
		return nil, err
	}
	return &Pseudonymizer{key: key}, nil
}

// Token returns a 12 hex character pseudonym for id. Empty ids stay empty.
func (p *Pseudonymizer) Token(id string) string {
	if id == "" {
		return ""
	}
	h, err := blake2b.New256(p.key)
	if err != nil {
		// only fails for keys over 64 bytes
		panic(err)
	}
	h.Write([]byte(id))
	return "p_" + hex.EncodeToString(h.Sum(nil))[:12]
}

var versionSegment = regexp.MustCompile(`^v[0-9]+$`)

// Path pseudonymizes every segment of an URL path that carries a digit, which
// covers numeric ids, UUIDs and prefixed ids like "pt-0042". Version segments
// such as "v1" and plain route words are kept.
func (p *Pseudonymizer) Path(path string) string {
	if path == "" {
		return path
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if strings.ContainsAny(part, "0123456789") && !versionSegment.MatchString(part) {
			parts[i] = p.Token(part)
		}
	}
	return strings.Join(parts, "/")
}
