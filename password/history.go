package password

import "errors"

// ErrReused is returned when a candidate matches a recent password.
var ErrReused = errors.New("password was used recently")

// CheckHistory rejects candidate when it verifies against any of the
// supplied recent hashes. Only the first limit hashes are considered;
// callers pass them newest first.
func (a *Argon2) CheckHistory(candidate string, recentHashes []string, limit int) error {
	if limit > 0 && len(recentHashes) > limit {
		recentHashes = recentHashes[:limit]
	}
	for _, h := range recentHashes {
		if h == "" {
			continue
		}
		ok, err := a.Verify(candidate, h)
		if err != nil {
			// Unparseable legacy hashes cannot match.
			continue
		}
		if ok {
			return ErrReused
		}
	}
	return nil
}
