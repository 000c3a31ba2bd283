package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Cost floor enforced on configuration and on stored hashes alike.
const (
	floorMemoryKB uint32 = 8 * 1024
	floorTime     uint32 = 1
	floorThreads  uint8  = 1
	floorSalt            = 16
	floorKey      uint32 = 16
	minHashInput         = 8
)

var (
	// ErrMalformedHash is returned for stored hashes that are not argon2id
	// PHC strings at or above the cost floor.
	ErrMalformedHash = errors.New("malformed password hash")
	// ErrHashVersion is returned for argon2 versions other than 0x13.
	ErrHashVersion = errors.New("unsupported argon2 version")
)

var b64 = base64.StdEncoding

// Config holds argon2id cost parameters.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (c Config) check() error {
	switch {
	case c.Memory < floorMemoryKB:
		return fmt.Errorf("argon2 memory must be >= %d KB", floorMemoryKB)
	case c.Time < floorTime:
		return errors.New("argon2 time must be >= 1")
	case c.Parallelism < floorThreads:
		return errors.New("argon2 parallelism must be >= 1")
	case c.SaltLength < floorSalt:
		return fmt.Errorf("argon2 salt length must be >= %d", floorSalt)
	case c.KeyLength < floorKey:
		return fmt.Errorf("argon2 key length must be >= %d", floorKey)
	}
	return nil
}

// Argon2 hashes and verifies passwords as PHC-formatted argon2id strings.
type Argon2 struct {
	config Config
}

// NewArgon2 rejects configurations below the cost floor.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &Argon2{config: cfg}, nil
}

// phc is a decoded $argon2id$ string.
type phc struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func (p phc) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.time, p.threads,
		b64.EncodeToString(p.salt), b64.EncodeToString(p.key))
}

func (p phc) derive(password string) []byte {
	return argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, uint32(len(p.key)))
}

// Hash returns a PHC string with a fresh random salt. The password bytes are
// used as given, without Unicode normalization.
func (a *Argon2) Hash(password string) (string, error) {
	if len(password) < minHashInput {
		return "", fmt.Errorf("password must be at least %d bytes", minHashInput)
	}
	p := phc{
		memory:  a.config.Memory,
		time:    a.config.Time,
		threads: a.config.Parallelism,
		salt:    make([]byte, a.config.SaltLength),
		key:     make([]byte, a.config.KeyLength),
	}
	if _, err := rand.Read(p.salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	p.key = p.derive(password)
	return p.String(), nil
}

// Verify recomputes the key with the parameters stored in encoded and
// compares in constant time.
func (a *Argon2) Verify(password, encoded string) (bool, error) {
	p, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(p.derive(password), p.key) == 1, nil
}

func decodePHC(encoded string) (phc, error) {
	var p phc
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return p, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil {
		return p, ErrMalformedHash
	}
	if version != argon2.Version {
		return p, ErrHashVersion
	}

	var threads uint32
	n, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &threads)
	if err != nil || n != 3 || fmt.Sprintf("m=%d,t=%d,p=%d", p.memory, p.time, threads) != fields[3] {
		return p, ErrMalformedHash
	}
	if p.memory < floorMemoryKB || p.time < floorTime || threads < uint32(floorThreads) || threads > 255 {
		return p, ErrMalformedHash
	}
	p.threads = uint8(threads)

	if p.salt, err = b64.DecodeString(fields[4]); err != nil || len(p.salt) < floorSalt {
		return p, ErrMalformedHash
	}
	if p.key, err = b64.DecodeString(fields[5]); err != nil || len(p.key) == 0 {
		return p, ErrMalformedHash
	}
	return p, nil
}
