package password

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

const (
	consonants       = "bcdfghjkmnpqrstvwxz"
	vowels           = "aeiouy"
	digits           = "23456789"
	generatedSpecial = "!@#$%"

	defaultGeneratedLength = 12
	maxGenerateAttempts    = 32
)

// ErrGenerateExhausted is returned when no candidate satisfied the policy.
var ErrGenerateExhausted = errors.New("could not generate a compliant password")

// GeneratePronounceable returns a temporary password built from alternating
// consonants and vowels with one uppercase letter, one digit and one
// special character mixed in. The result passes p's local rules.
func (p *Policy) GeneratePronounceable(length int) (string, error) {
	if length < defaultGeneratedLength {
		length = defaultGeneratedLength
	}
	if length < p.cfg.MinLength {
		length = p.cfg.MinLength
	}

	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		candidate, err := pronounceable(length)
		if err != nil {
			return "", err
		}
		if len(p.ValidateLocal(candidate)) == 0 {
			return candidate, nil
		}
	}

	return "", ErrGenerateExhausted
}

func pronounceable(length int) (string, error) {
	body := make([]byte, 0, length)
	for i := 0; len(body) < length-3; i++ {
		set := consonants
		if i%2 == 1 {
			set = vowels
		}
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		body = append(body, c)
	}

	upper, err := pick(consonants)
	if err != nil {
		return "", err
	}
	digit, err := pick(digits)
	if err != nil {
		return "", err
	}
	special, err := pick(generatedSpecial)
	if err != nil {
		return "", err
	}
	body = append(body, strings.ToUpper(string(upper))[0], digit, special)

	if err := shuffle(body); err != nil {
		return "", err
	}
	return string(body), nil
}

func pick(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}

func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return err
		}
		j := n.Int64()
		b[i], b[j] = b[j], b[i]
	}
	return nil
}
