package realtime

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-realtime-chat/internal/domain"
)

func newAuthDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:rt_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.User{}, &domain.Conversation{}))

	now := time.Now().UTC()
	for _, id := range []string{"u1", "u2", "u3"} {
		require.NoError(t, db.Create(&domain.User{ID: id, DisplayName: id, SubscriptionType: domain.SubscriptionFree, CreatedAt: now, UpdatedAt: now}).Error)
	}
	require.NoError(t, db.Create(&domain.Conversation{ID: "c1", User1ID: "u1", User2ID: "u2", CreatedAt: now, UpdatedAt: now}).Error)
	return db
}

func TestAuthorizer_Authorize(t *testing.T) {
	a := NewAuthorizer(newAuthDB(t), time.Second)
	ctx := context.Background()

	require.NoError(t, a.Authorize(ctx, "u1", "c1"))
	require.NoError(t, a.Authorize(ctx, " u2 ", "c1"))

	cases := []struct {
		user, conv string
		want       error
		reason     string
	}{
		{"", "c1", ErrMissingParams, "missing_params"},
		{"u1", "", ErrMissingParams, "missing_params"},
		{"ghost", "c1", ErrUnknownUser, "unknown_user"},
		{"u1", "nope", ErrUnknownConversation, "unknown_conversation"},
		{"u3", "c1", ErrNotParticipant, "not_participant"},
	}
	for _, tc := range cases {
		before := testutil.ToFloat64(rejections.WithLabelValues(tc.reason))
		err := a.Authorize(ctx, tc.user, tc.conv)
		require.ErrorIs(t, err, tc.want)
		assert.Equal(t, tc.reason, RejectReason(err))
		assert.Equal(t, before+1, testutil.ToFloat64(rejections.WithLabelValues(tc.reason)))
	}
}

func TestAuthorizer_InfrastructureError(t *testing.T) {
	db := newAuthDB(t)
	require.NoError(t, db.Migrator().DropTable(&domain.Conversation{}))

	err := NewAuthorizer(db, time.Second).Authorize(context.Background(), "u1", "c1")
	require.Error(t, err)
	assert.Equal(t, "internal", RejectReason(err))
	assert.Contains(t, err.Error(), "realtime.Authorize")
}

func TestAuthorizer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewAuthorizer(newAuthDB(t), time.Second).Authorize(ctx, "u1", "c1")
	require.Error(t, err)
	assert.Equal(t, "internal", RejectReason(err))
}
