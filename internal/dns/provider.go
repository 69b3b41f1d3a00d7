package dns

import (
	"context"
	"errors"
)

// RecordTypeTXT is the only record type the hook manages.
const RecordTypeTXT = "TXT"

var (
	// ErrRecordNotFound is returned when a record to delete does not exist.
	ErrRecordNotFound = errors.New("record not found")
	// ErrZoneNotFound is returned when no managed zone contains a hostname.
	ErrZoneNotFound = errors.New("zone not found")
)

// Record represents a DNS record to be managed.
type Record struct {
	Hostname string            // FQDN, e.g. "_acme-challenge.app.example.com"
	Type     string            // "TXT"
	Value    string            // record content
	TTL      int               // 0 = provider default
	Meta     map[string]string // provider-specific fields (e.g. "zone")
}

// Provider is the interface that DNS providers must implement.
//
// Records are identified by hostname, type and value, so several TXT values
// can live under the same name at once.
type Provider interface {
	Exists(ctx context.Context, record Record) (bool, error)
	Create(ctx context.Context, record Record) error
	Delete(ctx context.Context, record Record) error
}
