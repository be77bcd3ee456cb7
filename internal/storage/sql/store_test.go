package sql

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"mailfree/backend/internal/apperr"
	"mailfree/backend/internal/domain"
	"mailfree/backend/internal/storage"
)

func memoryDSN() string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStoreWithDialector(sqlite.Open(memoryDSN()), Options{AutoMigrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createUser(t *testing.T, s *Store, name string, limit int) *domain.User {
	t.Helper()
	user, err := s.CreateUser(context.Background(), domain.CreateUserInput{
		Username:     name,
		Role:         domain.RoleUser,
		MailboxLimit: limit,
	})
	require.NoError(t, err)
	return user
}

func insertMessage(t *testing.T, s *Store, mailboxID int64, subject string, at time.Time) int64 {
	t.Helper()
	id, err := s.InsertMessage(context.Background(), &storage.NewMessage{
		MailboxID:  mailboxID,
		Sender:     "sender@example.com",
		ToAddrs:    "to@example.com",
		Subject:    subject,
		Preview:    "preview of " + subject,
		Bucket:     domain.DefaultBucket,
		ObjectKey:  "2024/01/01/x/000000-" + subject + ".eml",
		ReceivedAt: at,
	})
	require.NoError(t, err)
	return id
}

func countRows(t *testing.T, s *Store, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.db.Model(model).Count(&n).Error)
	return n
}

func TestStore_Capabilities(t *testing.T) {
	s := newTestStore(t)
	caps := s.Capabilities()
	assert.True(t, caps.ToAddrs)
	assert.True(t, caps.Preview)
	assert.True(t, caps.VerificationCode)
	assert.True(t, caps.R2ObjectKey)
	assert.False(t, caps.Legacy())
}

func TestStore_GetOrCreateMailbox(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("idempotent", func(t *testing.T) {
		first, err := s.GetOrCreateMailbox(ctx, "  Hello@Example.COM ")
		require.NoError(t, err)
		assert.Equal(t, "hello@example.com", first.Address)
		assert.Equal(t, "hello", first.LocalPart)
		assert.Equal(t, "example.com", first.Domain)

		second, err := s.GetOrCreateMailbox(ctx, "hello@example.com")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.NotNil(t, second.LastAccessedAt)
		assert.Equal(t, int64(1), countRows(t, s, &domain.Mailbox{}))
	})

	t.Run("malformed addresses create nothing", func(t *testing.T) {
		before := countRows(t, s, &domain.Mailbox{})
		for _, raw := range []string{"", "no-at-sign", "@example.com", "local@", "a@b@c", "sp ace@x.com"} {
			_, err := s.GetOrCreateMailbox(ctx, raw)
			assert.True(t, apperr.Is(err, apperr.CodeValidation), raw)
		}
		assert.Equal(t, before, countRows(t, s, &domain.Mailbox{}))
	})

	t.Run("lookup never creates", func(t *testing.T) {
		id, err := s.MailboxIDByAddress(ctx, "ghost@example.com")
		require.NoError(t, err)
		assert.Zero(t, id)

		_, err = s.GetMailboxByAddress(ctx, "ghost@example.com")
		assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	})
}

func TestStore_GetOrCreateMailboxProperty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated getOrCreate returns the same id", prop.ForAll(
		func(local string) bool {
			address := strings.ToLower(local) + "@prop.test"
			a, err := s.GetOrCreateMailbox(ctx, address)
			if err != nil {
				return false
			}
			b, err := s.GetOrCreateMailbox(ctx, address)
			if err != nil {
				return false
			}
			var n int64
			s.db.Model(&domain.Mailbox{}).Where("address = ?", address).Count(&n)
			return a.ID == b.ID && n == 1
		},
		gen.AlphaString().SuchThat(func(v string) bool { return v != "" && len(v) <= 64 }),
	))

	properties.TestingRun(t)
}

func TestStore_AssignQuota(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createUser(t, s, "alice", 2)

	require.NoError(t, s.AssignMailbox(ctx, domain.AssignInput{Username: "alice", Address: "a@x.com"}))
	require.NoError(t, s.AssignMailbox(ctx, domain.AssignInput{Username: "ALICE", Address: "b@x.com"}))

	err := s.AssignMailbox(ctx, domain.AssignInput{Username: "alice", Address: "c@x.com"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeQuotaExceeded))
	assert.Equal(t, domain.MsgQuotaReached, apperr.Message(err, ""))

	boxes, err := s.UserMailboxes(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, boxes, 2)

	quota, err := s.Quota(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Quota{Used: 2, Limit: 2}, quota)

	t.Run("unknown user", func(t *testing.T) {
		err := s.AssignMailbox(ctx, domain.AssignInput{Username: "nobody", Address: "d@x.com"})
		assert.True(t, apperr.Is(err, apperr.CodeNotFound))
		assert.Equal(t, domain.MsgAssignUserAbsent, apperr.Message(err, ""))
	})

	t.Run("assigning a bound mailbox is a no-op", func(t *testing.T) {
		bob := createUser(t, s, "bob", 5)
		for i := 0; i < 3; i++ {
			require.NoError(t, s.AssignMailbox(ctx, domain.AssignInput{UserID: bob.ID, Address: "shared@x.com"}))
		}
		q, err := s.Quota(ctx, bob.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), q.Used)
	})
}

func TestStore_TogglePin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createUser(t, s, "pinner", 10)
	require.NoError(t, s.AssignMailbox(ctx, domain.AssignInput{UserID: user.ID, Address: "p@x.com"}))

	first, err := s.TogglePin(ctx, "p@x.com", user.ID)
	require.NoError(t, err)
	assert.True(t, first.IsPinned)

	second, err := s.TogglePin(ctx, "P@X.com", user.ID)
	require.NoError(t, err)
	assert.False(t, second.IsPinned)

	t.Run("creates a binding for unowned mailbox", func(t *testing.T) {
		_, err := s.GetOrCreateMailbox(ctx, "other@x.com")
		require.NoError(t, err)
		admin := createUser(t, s, "root-like", 10)

		res, err := s.TogglePin(ctx, "other@x.com", admin.ID)
		require.NoError(t, err)
		assert.True(t, res.IsPinned)

		all, err := s.ListAllMailboxes(ctx, admin.ID, domain.MailboxQuery{Limit: 10})
		require.NoError(t, err)
		require.NotEmpty(t, all)
		assert.Equal(t, "other@x.com", all[0].Address)
		assert.True(t, all[0].IsPinned)
	})

	t.Run("missing mailbox", func(t *testing.T) {
		_, err := s.TogglePin(ctx, "absent@x.com", user.ID)
		assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	})

	t.Run("no user", func(t *testing.T) {
		_, err := s.TogglePin(ctx, "p@x.com", 0)
		assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
	})
}

func TestStore_ListMailboxes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createUser(t, s, "lister", 10)

	for _, addr := range []string{"one@x.com", "two@x.com", "three@y.com"} {
		require.NoError(t, s.AssignMailbox(ctx, domain.AssignInput{UserID: user.ID, Address: addr}))
	}
	_, err := s.GetOrCreateMailbox(ctx, "unbound@x.com")
	require.NoError(t, err)
	_, err = s.TogglePin(ctx, "one@x.com", user.ID)
	require.NoError(t, err)

	own, err := s.ListOwnMailboxes(ctx, user.ID, domain.MailboxQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, own, 3)
	assert.Equal(t, "one@x.com", own[0].Address)
	assert.True(t, own[0].IsPinned)
	assert.True(t, own[0].PasswordIsDefault)

	filtered, err := s.ListOwnMailboxes(ctx, user.ID, domain.MailboxQuery{Limit: 10, Search: "y.com"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "three@y.com", filtered[0].Address)

	all, err := s.ListAllMailboxes(ctx, 0, domain.MailboxQuery{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, all, 4)
	for _, item := range all {
		assert.False(t, item.IsPinned)
	}

	paged, err := s.ListAllMailboxes(ctx, 0, domain.MailboxQuery{Limit: 2, Offset: 3})
	require.NoError(t, err)
	assert.Len(t, paged, 1)
}

func TestStore_DeleteMailboxCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createUser(t, s, "owner", 10)
	require.NoError(t, s.AssignMailbox(ctx, domain.AssignInput{UserID: user.ID, Address: "gone@x.com"}))
	mailboxID, err := s.MailboxIDByAddress(ctx, "gone@x.com")
	require.NoError(t, err)

	insertMessage(t, s, mailboxID, "m1", time.Now())
	insertMessage(t, s, mailboxID, "m2", time.Now())

	bound, err := s.IsBound(ctx, user.ID, mailboxID)
	require.NoError(t, err)
	assert.True(t, bound)

	deleted, err := s.DeleteMailbox(ctx, mailboxID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Zero(t, countRows(t, s, &domain.Message{}))
	assert.Zero(t, countRows(t, s, &domain.UserMailbox{}))
}

func TestStore_Users(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("create normalizes and rejects duplicates", func(t *testing.T) {
		user, err := s.CreateUser(ctx, domain.CreateUserInput{Username: "  Carol ", Role: "superuser", MailboxLimit: -3})
		require.NoError(t, err)
		assert.Equal(t, "carol", user.Username)
		assert.Equal(t, domain.RoleUser, user.Role)
		assert.Equal(t, 0, user.MailboxLimit)

		_, err = s.CreateUser(ctx, domain.CreateUserInput{Username: "carol"})
		assert.True(t, apperr.Is(err, apperr.CodeValidation))
		assert.Equal(t, domain.MsgUsernameTaken, apperr.Message(err, ""))

		_, err = s.CreateUser(ctx, domain.CreateUserInput{Username: "   "})
		assert.Equal(t, domain.MsgUsernameRequired, apperr.Message(err, ""))
	})

	t.Run("update only touches given fields", func(t *testing.T) {
		user := createUser(t, s, "dave", 4)
		canSend := true
		zero := 0
		require.NoError(t, s.UpdateUser(ctx, user.ID, domain.UserPatch{CanSend: &canSend, MailboxLimit: &zero}))

		got, err := s.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.True(t, got.CanSend)
		assert.Equal(t, 0, got.MailboxLimit)
		assert.Equal(t, domain.RoleUser, got.Role)

		err = s.UpdateUser(ctx, 9999, domain.UserPatch{CanSend: &canSend})
		assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	})

	t.Run("list with counts newest first", func(t *testing.T) {
		erin := createUser(t, s, "erin", 3)
		require.NoError(t, s.AssignMailbox(ctx, domain.AssignInput{UserID: erin.ID, Address: "e1@x.com"}))

		users, err := s.ListUsers(ctx, 0, 0)
		require.NoError(t, err)
		require.NotEmpty(t, users)
		assert.Equal(t, "erin", users[0].Username)
		assert.Equal(t, int64(1), users[0].MailboxCount)
	})

	t.Run("delete removes bindings", func(t *testing.T) {
		frank := createUser(t, s, "frank", 3)
		require.NoError(t, s.AssignMailbox(ctx, domain.AssignInput{UserID: frank.ID, Address: "f1@x.com"}))
		require.NoError(t, s.DeleteUser(ctx, frank.ID))

		var n int64
		require.NoError(t, s.db.Model(&domain.UserMailbox{}).Where("user_id = ?", frank.ID).Count(&n).Error)
		assert.Zero(t, n)

		_, err := s.GetMailboxByAddress(ctx, "f1@x.com")
		assert.NoError(t, err, "mailbox survives user deletion")
		assert.True(t, apperr.Is(s.DeleteUser(ctx, frank.ID), apperr.CodeNotFound))
	})

	t.Run("ensure admin user is lazy and stable", func(t *testing.T) {
		id1, err := s.EnsureAdminUser(ctx, "Admin")
		require.NoError(t, err)
		id2, err := s.EnsureAdminUser(ctx, "admin")
		require.NoError(t, err)
		assert.Equal(t, id1, id2)

		admin, err := s.GetUser(ctx, id1)
		require.NoError(t, err)
		assert.Equal(t, domain.RoleAdmin, admin.Role)
		assert.True(t, admin.CanSend)
	})
}

func TestStore_Messages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mailbox, err := s.GetOrCreateMailbox(ctx, "reader@x.com")
	require.NoError(t, err)

	fresh := insertMessage(t, s, mailbox.ID, "fresh", time.Now().Add(-time.Hour))
	stale := insertMessage(t, s, mailbox.ID, "stale", time.Now().Add(-48*time.Hour))
	window := domain.Visibility{ReceivedAfter: time.Now().Add(-24 * time.Hour)}

	all, err := s.ListMessages(ctx, mailbox.ID, domain.Visibility{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, fresh, all[0].ID)
	require.NotNil(t, all[0].Preview)
	assert.Equal(t, "preview of fresh", *all[0].Preview)

	recent, err := s.ListMessages(ctx, mailbox.ID, window)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, fresh, recent[0].ID)

	_, err = s.GetMessage(ctx, stale, window)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	msg, err := s.GetMessage(ctx, stale, domain.Visibility{})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultBucket, msg.R2Bucket)

	batch, err := s.GetMessages(ctx, []int64{fresh, stale, 9999}, window)
	require.NoError(t, err)
	assert.Len(t, batch, 1)

	require.NoError(t, s.MarkMessageRead(ctx, fresh))
	read, err := s.GetMessage(ctx, fresh, domain.Visibility{})
	require.NoError(t, err)
	assert.True(t, read.IsRead)

	owner, err := s.MessageOwner(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, mailbox.ID, owner)

	deleted, err := s.DeleteMessage(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.DeleteMessage(ctx, fresh)
	require.NoError(t, err)
	assert.False(t, deleted, "second delete reports nothing removed")

	removed, previous, err := s.ClearMessages(ctx, mailbox.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Equal(t, int64(1), previous)
}

func TestStore_LegacySchema(t *testing.T) {
	dsn := memoryDSN()
	bootstrap, err := NewStoreWithDialector(sqlite.Open(dsn), Options{AutoMigrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { bootstrap.Close() })

	// 模拟早期版本：正文存于 messages 表且 content 非空，没有 preview 等列
	require.NoError(t, bootstrap.db.Exec("DROP TABLE messages").Error)
	require.NoError(t, bootstrap.db.Exec(`CREATE TABLE messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mailbox_id INTEGER NOT NULL,
		sender TEXT NOT NULL,
		subject TEXT NOT NULL,
		content TEXT NOT NULL,
		html_content TEXT,
		received_at DATETIME,
		is_read INTEGER NOT NULL DEFAULT 0
	)`).Error)

	legacy, err := NewStoreWithDialector(sqlite.Open(dsn), Options{AutoMigrate: false})
	require.NoError(t, err)
	t.Cleanup(func() { legacy.Close() })

	caps := legacy.Capabilities()
	assert.True(t, caps.ContentNotNull)
	assert.True(t, caps.HTMLContent)
	assert.False(t, caps.Preview)
	assert.False(t, caps.R2ObjectKey)

	ctx := context.Background()
	mailbox, err := legacy.GetOrCreateMailbox(ctx, "old@x.com")
	require.NoError(t, err)
	id, err := legacy.InsertMessage(ctx, &storage.NewMessage{
		MailboxID:   mailbox.ID,
		Sender:      "s@x.com",
		Subject:     "legacy",
		Preview:     "ignored",
		Content:     "plain body",
		HTMLContent: "<p>plain body</p>",
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	body, err := legacy.LegacyBody(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "plain body", body.Content)
	assert.Equal(t, "<p>plain body</p>", body.HTMLContent)

	list, err := legacy.ListMessages(ctx, mailbox.ID, domain.Visibility{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Preview)
	assert.Equal(t, "plain body", *list[0].Preview)
	assert.Nil(t, list[0].VerificationCode)
}

func TestStore_Sent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	resendID := "re_123"

	sent := &domain.SentEmail{
		ResendID: &resendID,
		FromAddr: "Me@X.com",
		ToAddrs:  "you@y.com",
		Subject:  "hi",
		Status:   domain.SentStatusDelivered,
	}
	require.NoError(t, s.RecordSent(ctx, sent))
	assert.NotZero(t, sent.ID)

	canceled := domain.SentStatusCanceled
	require.NoError(t, s.UpdateSent(ctx, resendID, domain.SentEmailUpdate{Status: &canceled}))
	require.NoError(t, s.UpdateSent(ctx, "", domain.SentEmailUpdate{Status: &canceled}))

	list, err := s.ListSent(ctx, "me@x.com", 50)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.SentStatusCanceled, list[0].Status)
	assert.Equal(t, "you@y.com", list[0].ToAddrs)

	got, err := s.GetSent(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Subject)

	require.NoError(t, s.DeleteSent(ctx, sent.ID))
	_, err = s.GetSent(ctx, sent.ID)
	assert.Equal(t, MsgSentNotFound, apperr.Message(err, ""))
}
