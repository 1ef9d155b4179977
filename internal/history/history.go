// Package history archives finished operations. The archive outlives the
// expiring state store; it is what lets the assistant recall "you registered
// vault.eth last week" after the flow itself has been cleared.
package history

import (
	"context"
	"sync"
	"time"

	"NamePilot/internal/flow"
)

// Record is one terminal operation as archived.
type Record struct {
	UserID         string
	ConversationID string
	FlowType       string
	Name           string
	Status         string
	TxHash         string
	AmountWei      string
	CompletedAt    int64
}

// Repository persists finished operations.
type Repository interface {
	Save(ctx context.Context, record Record) error
	ListRecent(ctx context.Context, userID string, limit int) ([]Record, error)
	Close() error
}

// FromFlow flattens a terminal flow into a Record. It never fails: missing
// payload fields simply archive as empty strings.
func FromFlow(f *flow.Flow) Record {
	record := Record{
		UserID:         f.UserID,
		ConversationID: f.ConversationID,
		FlowType:       string(f.Type),
		Status:         string(f.Status),
		CompletedAt:    time.Now().UnixMilli(),
	}
	switch f.Type {
	case flow.TypeRegistration:
		var data flow.RegistrationData
		if f.DecodeData(&data) == nil {
			record.Name = data.Name
			record.TxHash = data.RegisterTxHash
			record.AmountWei = data.Costs.Total().String()
		}
	case flow.TypeBridge:
		var data flow.BridgeData
		if f.DecodeData(&data) == nil {
			record.TxHash = data.TxHash
			record.AmountWei = data.InputAmount.String()
		}
	case flow.TypeSubdomain:
		var data flow.SubdomainData
		if f.DecodeData(&data) == nil {
			record.Name = data.Label + "." + data.Parent
			if len(data.TxHashes) > 0 {
				record.TxHash = data.TxHashes[len(data.TxHashes)-1]
			}
		}
	case flow.TypeTransfer:
		var data flow.TransferData
		if f.DecodeData(&data) == nil {
			record.Name = data.Name
			record.TxHash = data.TxHash
		}
	case flow.TypeRenewal:
		var data flow.RenewalData
		if f.DecodeData(&data) == nil {
			record.Name = data.Name
			record.TxHash = data.TxHash
			record.AmountWei = data.Price.String()
		}
	}
	return record
}

// MemoryRepository keeps records in process memory. Used in tests and when no
// database is configured.
type MemoryRepository struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Save(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append([]Record{record}, m.records...)
	if len(m.records) > 512 {
		m.records = m.records[:512]
	}
	return nil
}

func (m *MemoryRepository) ListRecent(_ context.Context, userID string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	var results []Record
	for _, record := range m.records {
		if record.UserID != userID {
			continue
		}
		results = append(results, record)
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

func (m *MemoryRepository) Close() error { return nil }

var _ Repository = (*MemoryRepository)(nil)
