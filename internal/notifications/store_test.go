package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/talenthub/internal/apperr"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Notification{}))
	store, err := NewStore(StoreConfig{Database: db})
	require.NoError(t, err)
	return store
}

func seed(t *testing.T, store *Store, recipientID string, at time.Time) Notification {
	t.Helper()
	notification := Notification{
		ID:          uuid.NewString(),
		Type:        TypeComment,
		Message:     "Nouveau commentaire",
		EntityType:  "activity",
		EntityID:    uuid.NewString(),
		RecipientID: recipientID,
		Timestamp:   at,
	}
	require.NoError(t, store.Create(context.Background(), &notification))
	return notification
}

func TestListByRecipientNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	oldest := seed(t, store, "user-c", base)
	newest := seed(t, store, "user-c", base.Add(2*time.Minute))
	middle := seed(t, store, "user-c", base.Add(time.Minute))
	seed(t, store, "user-d", base.Add(3*time.Minute))

	listed, err := store.ListByRecipient(ctx, "user-c", ListOptions{})
	require.NoError(t, err)
	require.Len(t, listed, 3)
	require.Equal(t, []string{newest.ID, middle.ID, oldest.ID}, []string{listed[0].ID, listed[1].ID, listed[2].ID})
	require.False(t, listed[0].Read)

	limited, err := store.ListByRecipient(ctx, "user-c", ListOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	all, err := store.ListAll(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 4)
}

func TestMarkReadIsScopedToRecipient(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	record := seed(t, store, "user-c", time.Now())

	_, err := store.MarkRead(ctx, record.ID, "user-d")
	require.True(t, apperr.Is(err, apperr.KindNotFound))
	require.ErrorIs(t, err, ErrNotificationNotFound)

	updated, err := store.MarkRead(ctx, record.ID, "user-c")
	require.NoError(t, err)
	require.True(t, updated.Read)

	unread, err := store.CountUnread(ctx, "user-c")
	require.NoError(t, err)
	require.Zero(t, unread)
}

func TestMarkAllReadIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seed(t, store, "user-c", time.Now())
	seed(t, store, "user-c", time.Now())
	seed(t, store, "user-d", time.Now())

	changed, err := store.MarkAllRead(ctx, "user-c")
	require.NoError(t, err)
	require.EqualValues(t, 2, changed)

	first, err := store.ListByRecipient(ctx, "user-c", ListOptions{})
	require.NoError(t, err)

	changed, err = store.MarkAllRead(ctx, "user-c")
	require.NoError(t, err)
	require.Zero(t, changed)

	second, err := store.ListByRecipient(ctx, "user-c", ListOptions{})
	require.NoError(t, err)
	require.Equal(t, first, second)
	for _, record := range second {
		require.True(t, record.Read)
	}

	unread, err := store.ListByRecipient(ctx, "user-d", ListOptions{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 1)
}

func TestClearRemovesOnlyRecipientRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seed(t, store, "user-c", time.Now())
	kept := seed(t, store, "user-d", time.Now())

	removed, err := store.Clear(ctx, "user-c")
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	_, err = store.Get(ctx, kept.ID)
	require.NoError(t, err)

	listed, err := store.ListByRecipient(ctx, "user-c", ListOptions{})
	require.NoError(t, err)
	require.Empty(t, listed)
}

func TestCreateRejectsIncompleteRecords(t *testing.T) {
	store := newTestStore(t)
	err := store.Create(context.Background(), &Notification{ID: uuid.NewString(), Type: Type("spam"), RecipientID: "user-c"})
	require.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = store.Get(context.Background(), uuid.NewString())
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}
