package audit

import (
	"context"
	"time"

	obscontext "github.com/brightmont/academy/internal/observability/context"
	"github.com/brightmont/academy/internal/payment/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entry describes one audited state change.
type Entry struct {
	PaymentID  snowflake.ID
	Action     string
	ActorType  string
	ActorID    string
	PrevStatus domain.PaymentStatus
	NewStatus  domain.PaymentStatus
	Metadata   map[string]any
}

// Writer appends payment audit rows. Record takes the caller's *gorm.DB so
// the audit write commits or rolls back with the state change it describes.
type Writer struct {
	genID *snowflake.Node
}

func NewWriter(genID *snowflake.Node) *Writer {
	return &Writer{genID: genID}
}

func (w *Writer) Record(ctx context.Context, db *gorm.DB, entry Entry) error {
	metadata := datatypes.JSONMap{}
	for key, value := range entry.Metadata {
		metadata[key] = value
	}
	if ip := obscontext.IPAddressFromContext(ctx); ip != "" {
		metadata["ip_address"] = ip
	}
	if ua := obscontext.UserAgentFromContext(ctx); ua != "" {
		metadata["user_agent"] = ua
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		metadata["request_id"] = requestID
	}

	row := domain.PaymentAuditLog{
		ID:         w.genID.Generate(),
		PaymentID:  entry.PaymentID,
		Action:     entry.Action,
		ActorType:  entry.ActorType,
		ActorID:    entry.ActorID,
		PrevStatus: string(entry.PrevStatus),
		NewStatus:  string(entry.NewStatus),
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}

	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_audit_logs (id, payment_id, action, actor_type, actor_id, prev_status, new_status, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID,
		row.PaymentID,
		row.Action,
		row.ActorType,
		row.ActorID,
		row.PrevStatus,
		row.NewStatus,
		row.Metadata,
		row.CreatedAt,
	).Error
}

// Trail returns the audit rows for a payment, oldest first.
func (w *Writer) Trail(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]*domain.PaymentAuditLog, error) {
	var rows []*domain.PaymentAuditLog
	err := db.WithContext(ctx).Raw(
		`SELECT id, payment_id, action, actor_type, actor_id, prev_status, new_status, metadata, created_at
		 FROM payment_audit_logs WHERE payment_id = ? ORDER BY created_at ASC, id ASC`,
		paymentID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
