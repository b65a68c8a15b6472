package vault

import (
	"github.com/saworbit/snapvault/pkg/audit"
	"github.com/saworbit/snapvault/pkg/ledger"
)

// List returns every snapshot record in sequence order.
func (s *Store) List() []ledger.Record {
	return s.Ledger.List()
}

// AuditVerify checks the store's audit chain end to end and returns the
// final entry hash on success.
func (s *Store) AuditVerify() (string, error) {
	return audit.Verify(s.AuditLogPath())
}
