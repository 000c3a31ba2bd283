package password

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultPwnedRangeURL is the k-anonymity range endpoint of Pwned Passwords.
const DefaultPwnedRangeURL = "https://api.pwnedpasswords.com/range/"

// ErrBreachUnavailable wraps every transport or protocol failure of the lookup.
var ErrBreachUnavailable = errors.New("breach lookup unavailable")

// PwnedClient queries the Pwned Passwords range API. Only the first five
// hex characters of the SHA-1 digest leave the process.
type PwnedClient struct {
	baseURL string
	client  *http.Client
}

// NewPwnedClient builds a client. An empty baseURL selects the public API;
// timeout <= 0 selects 5 seconds.
func NewPwnedClient(baseURL string, timeout time.Duration) *PwnedClient {
	if baseURL == "" {
		baseURL = DefaultPwnedRangeURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PwnedClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Count returns the number of breaches password appears in, or 0.
func (c *PwnedClient) Count(ctx context.Context, password string) (int, error) {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:5], digest[5:]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+prefix, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBreachUnavailable, err)
	}
	req.Header.Set("Add-Padding", "true")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBreachUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrBreachUnavailable, resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		hashSuffix, count, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(hashSuffix, suffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil {
			return 0, fmt.Errorf("%w: malformed count", ErrBreachUnavailable)
		}
		return n, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBreachUnavailable, err)
	}

	return 0, nil
}
