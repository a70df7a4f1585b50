package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-realtime-chat/internal/domain"
)

// HistoryStats summarises a conversation's messages for cache validation.
// New messages move Count and LastSeq; read receipts move UpdatedAt.
type HistoryStats struct {
	Count     int64
	LastSeq   int64
	UpdatedAt time.Time // zero when Count is 0
}

// Version renders the stats as an opaque token suitable for an ETag.
func (s HistoryStats) Version() (count, lastSeq, updatedMillis int64) {
	if s.Count == 0 {
		return 0, 0, 0
	}
	return s.Count, s.LastSeq, s.UpdatedAt.UnixMilli()
}

// MessageHistoryStats reads HistoryStats for conversationID.
func MessageHistoryStats(ctx context.Context, db *gorm.DB, conversationID string) (HistoryStats, error) {
	var st HistoryStats
	scoped := func() *gorm.DB {
		return db.WithContext(ctx).Model(&domain.Message{}).Where("conversation_id = ?", conversationID)
	}

	if err := scoped().Count(&st.Count).Error; err != nil {
		return HistoryStats{}, err
	}
	if st.Count == 0 {
		return st, nil
	}

	var last domain.Message
	if err := scoped().Select("seq").Order("seq DESC").Take(&last).Error; err != nil {
		return HistoryStats{}, err
	}
	st.LastSeq = last.Seq

	// Row scan instead of MAX(): SQLite hands back MAX(updated_at) as TEXT.
	var newest domain.Message
	if err := scoped().Select("updated_at").Order("updated_at DESC").Take(&newest).Error; err != nil {
		return HistoryStats{}, err
	}
	st.UpdatedAt = newest.UpdatedAt
	return st, nil
}
