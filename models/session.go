package models

import "time"

// SessionRecord is one device/login session embedded in the user document.
// The refresh token itself is never stored, only its hash.
type SessionRecord struct {
	ID                string     `bson:"id" json:"id"`
	TokenHash         string     `bson:"tokenHash" json:"-"`
	PreviousTokenHash string     `bson:"previousTokenHash,omitempty" json:"-"`
	ExpiresAt         time.Time  `bson:"expiresAt" json:"expiresAt"`
	DeviceInfo        string     `bson:"deviceInfo,omitempty" json:"deviceInfo,omitempty"`
	CreatedAt         time.Time  `bson:"createdAt" json:"createdAt"`
	LastUsedAt        *time.Time `bson:"lastUsedAt,omitempty" json:"lastUsedAt,omitempty"`
}

// Expired reports whether the record is expired at now. A record whose
// expiry equals now counts as expired.
func (r SessionRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// AppendCapped appends rec and, when limit > 0, drops the oldest records so
// that at most limit remain. The input slice is not modified.
func AppendCapped(recs []SessionRecord, rec SessionRecord, limit int) []SessionRecord {
	out := make([]SessionRecord, 0, len(recs)+1)
	out = append(out, recs...)
	out = append(out, rec)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// PruneExpired splits recs into the records still valid at now and the number
// of records removed.
func PruneExpired(recs []SessionRecord, now time.Time) ([]SessionRecord, int) {
	kept := make([]SessionRecord, 0, len(recs))
	for _, r := range recs {
		if !r.Expired(now) {
			kept = append(kept, r)
		}
	}
	return kept, len(recs) - len(kept)
}

// CountExpired returns how many of recs are expired at now.
func CountExpired(recs []SessionRecord, now time.Time) int {
	n := 0
	for _, r := range recs {
		if r.Expired(now) {
			n++
		}
	}
	return n
}
