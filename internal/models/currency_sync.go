package models

// CurrencySync records remote fetch bookkeeping per quote currency.
// NextAllowedAtMs is zero when no backoff is in effect; a future timestamp
// means the upstream source must not be called for that currency until then.
type CurrencySync struct {
	VsCurrency      string `gorm:"primaryKey;size:16" json:"vs_currency"`
	LastFetchedAtMs int64  `json:"last_fetched_at_ms"`
	NextAllowedAtMs int64  `json:"next_allowed_at_ms"`
}
