package memory

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailfree/backend/internal/apperr"
	"mailfree/backend/internal/domain"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(seed int64) *Store {
	return NewStore(
		WithRand(rand.New(rand.NewSource(seed))),
		WithClock(func() time.Time { return fixedNow }),
	)
}

func TestMemoryStore_Seed(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		s := newTestStore(seed)
		users, err := s.ListUsers(context.Background(), 0, 0)
		require.NoError(t, err)
		require.Len(t, users, 3)

		byName := map[string]domain.UserWithCount{}
		for _, u := range users {
			byName[u.Username] = u
		}
		assert.Equal(t, 5, byName["demo1"].MailboxLimit)
		assert.Equal(t, 8, byName["demo2"].MailboxLimit)
		assert.Equal(t, domain.RoleAdmin, byName["operator"].Role)
		assert.Equal(t, 20, byName["operator"].MailboxLimit)

		for _, u := range users {
			assert.GreaterOrEqual(t, u.MailboxCount, int64(3), u.Username)
			assert.LessOrEqual(t, u.MailboxCount, int64(u.MailboxLimit), u.Username)
			assert.LessOrEqual(t, u.MailboxCount, int64(8), u.Username)
		}
	}
}

func TestMemoryStore_CreateUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(1)

	created, err := s.CreateUser(ctx, domain.CreateUserInput{Username: "  Alice ", Role: "superuser", MailboxLimit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(4), created.ID)
	assert.Equal(t, "alice", created.Username)
	assert.Equal(t, domain.RoleUser, created.Role)

	users, err := s.ListUsers(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, users, 4)
	assert.Equal(t, "alice", users[0].Username, "新用户排在最前")
	assert.Zero(t, users[0].MailboxCount)

	t.Run("重复用户名", func(t *testing.T) {
		_, err := s.CreateUser(ctx, domain.CreateUserInput{Username: "ALICE"})
		require.Error(t, err)
		assert.Equal(t, apperr.CodeValidation, mustCode(t, err))
		assert.Equal(t, domain.MsgUsernameTaken, apperr.Message(err, ""))
	})

	t.Run("空用户名", func(t *testing.T) {
		_, err := s.CreateUser(ctx, domain.CreateUserInput{Username: "   "})
		assert.Equal(t, domain.MsgUsernameRequired, apperr.Message(err, ""))
	})

	t.Run("负上限归零", func(t *testing.T) {
		u, err := s.CreateUser(ctx, domain.CreateUserInput{Username: "bob", MailboxLimit: -3})
		require.NoError(t, err)
		assert.Equal(t, 0, u.MailboxLimit)
		assert.Equal(t, int64(5), u.ID)
	})
}

func TestMemoryStore_UpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(2)

	role := "admin"
	limit := -1
	canSend := true
	require.NoError(t, s.UpdateUser(ctx, 1, domain.UserPatch{Role: &role, MailboxLimit: &limit, CanSend: &canSend}))

	users, _ := s.ListUsers(ctx, 0, 0)
	var demo1 domain.UserWithCount
	for _, u := range users {
		if u.ID == 1 {
			demo1 = u
		}
	}
	assert.Equal(t, domain.RoleAdmin, demo1.Role)
	assert.Equal(t, 0, demo1.MailboxLimit)
	assert.True(t, demo1.CanSend)

	err := s.UpdateUser(ctx, 99, domain.UserPatch{Role: &role})
	assert.Equal(t, domain.MsgUserMissing, apperr.Message(err, ""))
	assert.Equal(t, apperr.CodeNotFound, mustCode(t, err))

	require.NoError(t, s.DeleteUser(ctx, 2))
	boxes, err := s.UserMailboxes(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, boxes)

	err = s.DeleteUser(ctx, 2)
	assert.Equal(t, domain.MsgUserMissing, apperr.Message(err, ""))
}

func TestMemoryStore_AssignMailbox(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(3)

	_, err := s.CreateUser(ctx, domain.CreateUserInput{Username: "carol", MailboxLimit: 2})
	require.NoError(t, err)

	require.NoError(t, s.AssignMailbox(ctx, domain.AssignInput{Username: "Carol", Address: "A@exa.cc"}))
	require.NoError(t, s.AssignMailbox(ctx, domain.AssignInput{Username: "carol", Address: "b@exa.cc"}))

	err = s.AssignMailbox(ctx, domain.AssignInput{Username: "carol", Address: "c@exa.cc"})
	assert.Equal(t, apperr.CodeQuotaExceeded, mustCode(t, err))
	assert.Equal(t, domain.MsgQuotaReached, apperr.Message(err, ""))

	boxes, err := s.UserMailboxes(ctx, 4)
	require.NoError(t, err)
	require.Len(t, boxes, 2)
	assert.Equal(t, "b@exa.cc", boxes[0].Address, "新分配的邮箱排在最前")
	assert.Equal(t, "a@exa.cc", boxes[1].Address)

	err = s.AssignMailbox(ctx, domain.AssignInput{Username: "nobody", Address: "x@exa.cc"})
	assert.Equal(t, domain.MsgAssignUserAbsent, apperr.Message(err, ""))
	assert.Equal(t, apperr.CodeNotFound, mustCode(t, err))

	t.Run("上限为零按默认值", func(t *testing.T) {
		_, err := s.CreateUser(ctx, domain.CreateUserInput{Username: "zero"})
		require.NoError(t, err)
		for i := 0; i < domain.DefaultMailboxLimit; i++ {
			require.NoError(t, s.AssignMailbox(ctx, domain.AssignInput{UserID: 5, Address: string(rune('a'+i)) + "@exa.cc"}))
		}
		err = s.AssignMailbox(ctx, domain.AssignInput{UserID: 5, Address: "z@exa.cc"})
		assert.Equal(t, domain.MsgQuotaReached, apperr.Message(err, ""))
	})
}

func TestMemoryStore_UserMailboxesSubset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(4)

	_, err := s.CreateUser(ctx, domain.CreateUserInput{Username: "many", MailboxLimit: 20})
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		require.NoError(t, s.AssignMailbox(ctx, domain.AssignInput{UserID: 4, Address: strings.Repeat("m", i+1) + "@exa.cc"}))
	}

	for i := 0; i < 50; i++ {
		boxes, err := s.UserMailboxes(ctx, 4)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(boxes), 3)
		assert.LessOrEqual(t, len(boxes), 8)
		assert.Equal(t, strings.Repeat("m", 12)+"@exa.cc", boxes[0].Address, "始终从列表头部截取")
	}

	boxes, err := s.UserMailboxes(ctx, 404)
	require.NoError(t, err)
	assert.NotNil(t, boxes)
	assert.Empty(t, boxes)
}

func TestMemoryStore_ConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(5)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.CreateUser(ctx, domain.CreateUserInput{Username: "user" + string(rune('a'+i))})
		}(i)
	}
	wg.Wait()

	users, err := s.ListUsers(ctx, 100, 0)
	require.NoError(t, err)
	assert.Len(t, users, 23)

	seen := map[int64]bool{}
	for _, u := range users {
		assert.False(t, seen[u.ID], "ID 不应重复")
		seen[u.ID] = true
	}
}

func TestMemoryStore_MockBuilders(t *testing.T) {
	s := newTestStore(6)

	assert.Equal(t, []string{"exa.cc", "exr.yp", "duio.ty"}, s.Domains())

	emails := s.Emails(6)
	require.Len(t, emails, 6)
	for i := 1; i < len(emails); i++ {
		assert.True(t, emails[i-1].ReceivedAt.After(emails[i].ReceivedAt))
	}
	require.NotNil(t, emails[0].VerificationCode)
	assert.Equal(t, "482913", *emails[0].VerificationCode)

	detail := s.EmailDetail(2)
	assert.Equal(t, int64(2), detail.ID)
	assert.Contains(t, detail.Content, "705126")
	assert.NotEmpty(t, detail.HTMLContent)

	boxes := s.Mailboxes(5, 10, []string{"only.test"})
	require.Len(t, boxes, 5)
	for _, b := range boxes {
		assert.True(t, strings.HasSuffix(b.Address, "@only.test"))
		assert.False(t, b.IsPinned)
	}
	assert.Empty(t, s.Mailboxes(-1, 0, nil))
}

func mustCode(t *testing.T, err error) apperr.Code {
	t.Helper()
	appErr, ok := apperr.As(err)
	require.True(t, ok, "expected AppError, got %v", err)
	return appErr.Code
}
