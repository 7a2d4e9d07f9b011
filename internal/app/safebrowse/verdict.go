package safebrowse

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const (
	// SafeTTL is how long an upstream "no match" stays cached. Claimed-safe
	// results are re-checked sooner than unsafe ones.
	SafeTTL = 60 * time.Second
	// UnsafeTTL is how long a confirmed upstream match stays cached.
	UnsafeTTL = 300 * time.Second

	// LocalThreatType labels matches coming from the local threat list.
	LocalThreatType = "SOCIAL_ENGINEERING"
)

// VerdictRecord is one cached classification of a LookupKey. Records are
// append-only; a key may have several with different expiry.
type VerdictRecord struct {
	URLHash    string    `json:"url_hash"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expires_at"`
	Safe       bool      `json:"safe"`
	ThreatType string    `json:"threat_type,omitempty"`
}

// Live reports whether the record still counts as cached at now.
func (r VerdictRecord) Live(now time.Time) bool {
	return r.ExpiresAt.After(now)
}

// ThreatListEntry is an externally ingested "known phishing" fact. ID is the
// store's insertion sequence and only grows.
type ThreatListEntry struct {
	ID      int64     `json:"id"`
	URLHash string    `json:"url_hash"`
	URL     string    `json:"url"`
	Source  string    `json:"source"`
	AddedAt time.Time `json:"added_at"`
}

// HashKey returns the content fingerprint stored alongside a LookupKey.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func NewSafeRecord(key string, now time.Time) VerdictRecord {
	return VerdictRecord{
		URLHash:   HashKey(key),
		URL:       key,
		ExpiresAt: now.Add(SafeTTL),
		Safe:      true,
	}
}

func NewUnsafeRecord(key, threatType string, now time.Time) VerdictRecord {
	return VerdictRecord{
		URLHash:    HashKey(key),
		URL:        key,
		ExpiresAt:  now.Add(UnsafeTTL),
		Safe:       false,
		ThreatType: threatType,
	}
}

// MergeVerdict folds the live records of one key, given in insertion order.
//
// The key is unsafe if any record is unsafe. The reported threat type is the
// one of the last unsafe record that carries a type.
func MergeVerdict(records []VerdictRecord) (safe bool, threatType string) {
	safe = true
	for _, r := range records {
		if r.Safe {
			continue
		}
		safe = false
		if r.ThreatType != "" {
			threatType = r.ThreatType
		}
	}
	return safe, threatType
}

// DedupeByURL keeps the first record seen for each URL.
func DedupeByURL(records []VerdictRecord) []VerdictRecord {
	if len(records) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(records))
	out := make([]VerdictRecord, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.URL]; ok {
			continue
		}
		seen[r.URL] = struct{}{}
		out = append(out, r)
	}
	return out
}
