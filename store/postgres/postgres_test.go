package postgres

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/kbchat/store"
)

func TestChatHistory_AddAndRead(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewStoreWithPool(mock)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chat_messages")).
		WithArgs("sess-1", store.RoleHuman, "What is the vacation policy?").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = s.AddUserMessage(ctx, "sess-1", "What is the vacation policy?")
	assert.NoError(t, err)

	now := time.Now()
	rows := pgxmock.NewRows([]string{"role", "content", "user_id", "created_at"}).
		AddRow(store.RoleHuman, "What is the vacation policy?", "", now).
		AddRow(store.RoleAI, "Twenty days per year.", "", now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT role, content, COALESCE(user_id, ''), created_at")).
		WithArgs("sess-1").
		WillReturnRows(rows)

	msgs, err := s.Messages(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleHuman, msgs[0].Role)
	assert.Equal(t, "Twenty days per year.", msgs[1].Content)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatHistory_Clear(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewStoreWithPool(mock)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM chat_messages WHERE session_id = $1")).
		WithArgs("sess-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	assert.NoError(t, s.Clear(context.Background(), "sess-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstructionStore_PutAndGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewStoreWithPool(mock)
	ctx := context.Background()

	sets := []store.InstructionSet{
		{Name: "interaction_instruction", Purpose: "how to respond", Instructions: "Answer briefly."},
	}
	setsJSON, _ := json.Marshal(sets)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO instruction_sets")).
		WithArgs("conv-1", store.InstructionsKey, setsJSON).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Put(ctx, "conv-1", store.InstructionsKey, sets))

	rows := pgxmock.NewRows([]string{"sets"}).AddRow(setsJSON)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT sets FROM instruction_sets")).
		WithArgs("conv-1", store.InstructionsKey).
		WillReturnRows(rows)

	got, err := s.Get(ctx, "conv-1", store.InstructionsKey)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "interaction_instruction", got[0].Name)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstructionStore_GetMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewStoreWithPool(mock)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT sets FROM instruction_sets")).
		WithArgs("conv-x", store.InstructionsKey).
		WillReturnRows(pgxmock.NewRows([]string{"sets"}))

	_, err = s.Get(context.Background(), "conv-x", store.InstructionsKey)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectionRegistry(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	r := NewCollectionRegistry(mock)
	ctx := context.Background()

	userID := "user-1"
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO collections")).
		WithArgs("hr_docs", &userID, "HR policies and handbooks").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, r.Save(ctx, store.Collection{Name: "hr_docs", UserID: &userID, Note: "HR policies and handbooks"}))

	rows := pgxmock.NewRows([]string{"name", "user_id", "note"}).
		AddRow("hr_docs", &userID, "HR policies and handbooks")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name, user_id, note FROM collections WHERE name = $1")).
		WithArgs("hr_docs").
		WillReturnRows(rows)

	got, err := r.Get(ctx, "hr_docs")
	require.NoError(t, err)
	assert.Equal(t, "hr_docs", got.Name)
	require.NotNil(t, got.UserID)
	assert.Equal(t, "user-1", *got.UserID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectionRegistry_GetMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	r := NewCollectionRegistry(mock)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT name, user_id, note FROM collections WHERE name = $1")).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"name", "user_id", "note"}))

	_, err = r.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewStoreWithPool(mock)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS chat_messages")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	assert.NoError(t, s.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
