package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	apperrors "github.com/aihub/support-agent/internal/errors"
	"github.com/aihub/support-agent/internal/models"
)

// newMockDB 创建基于sqlmock的gorm连接
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestConversationService_GetOrCreate_EmptyID(t *testing.T) {
	db, _ := newMockDB(t)
	service := NewConversationService(db)

	_, err := service.GetOrCreate(context.Background(), "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
}

func TestConversationService_GetOrCreate_Existing(t *testing.T) {
	db, mock := newMockDB(t)
	service := NewConversationService(db)

	rows := sqlmock.NewRows([]string{"id", "external_id", "create_time", "update_time"}).
		AddRow(7, "session-1", time.Now(), time.Now())
	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE external_id =`).
		WithArgs("session-1", 1).
		WillReturnRows(rows)

	conversation, err := service.GetOrCreate(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, uint(7), conversation.ID)
	assert.Equal(t, "session-1", conversation.ExternalID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationService_GetOrCreate_CreatesWhenMissing(t *testing.T) {
	db, mock := newMockDB(t)
	service := NewConversationService(db)

	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE external_id =`).
		WithArgs("session-2", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "conversations"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectCommit()

	conversation, err := service.GetOrCreate(context.Background(), "session-2")
	require.NoError(t, err)
	assert.Equal(t, uint(11), conversation.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationService_AppendAssistantTurn(t *testing.T) {
	db, mock := newMockDB(t)
	service := NewConversationService(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "conversation_messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectExec(`UPDATE "conversations" SET "update_time"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	message, err := service.AppendAssistantTurn(context.Background(), 7, "Refunds take 5 days.", AssistantTurn{
		CitedChunkIDs:    []uint{41, 42},
		Confidence:       0.9,
		Escalated:        false,
		EscalationReason: "",
	})
	require.NoError(t, err)
	assert.Equal(t, uint(3), message.ID)
	assert.Equal(t, models.RoleAssistant, message.Role)
	assert.JSONEq(t, "[41,42]", message.CitedChunkIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationService_GetHistory_AscendingOrder(t *testing.T) {
	db, mock := newMockDB(t)
	service := NewConversationService(db)

	now := time.Now()
	// 查询按时间倒序取最近N条
	rows := sqlmock.NewRows([]string{"id", "conversation_id", "role", "content", "created_at"}).
		AddRow(3, 7, "assistant", "third", now).
		AddRow(2, 7, "user", "second", now.Add(-time.Minute)).
		AddRow(1, 7, "user", "first", now.Add(-2*time.Minute))
	mock.ExpectQuery(`SELECT \* FROM "conversation_messages" WHERE conversation_id =`).
		WithArgs(int64(7), 10).
		WillReturnRows(rows)

	messages, err := service.GetHistory(context.Background(), 7, 10)
	require.NoError(t, err)
	require.Len(t, messages, 3)

	// 返回顺序为时间升序，最新在最后
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "second", messages[1].Content)
	assert.Equal(t, "third", messages[2].Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationService_GetHistoryByExternalID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	service := NewConversationService(db)

	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE external_id =`).
		WithArgs("missing", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := service.GetHistoryByExternalID(context.Background(), "missing", 10)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}
