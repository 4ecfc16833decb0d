package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/kanda-backend/internal/data/repos"
	"github.com/yungbote/kanda-backend/internal/data/repos/testutil"
	types "github.com/yungbote/kanda-backend/internal/domain"
	"github.com/yungbote/kanda-backend/internal/pkg/ctxutil"
	apperrors "github.com/yungbote/kanda-backend/internal/pkg/errors"
	"github.com/yungbote/kanda-backend/internal/platform/tokenstore"
)

type recordingMailer struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (m *recordingMailer) SendActivation(ctx context.Context, u *types.User, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		m.tokens = map[string]string{}
	}
	m.tokens[u.Email] = token
	return nil
}

func (m *recordingMailer) tokenFor(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[email]
}

func newAuthFixture(t *testing.T) (AuthService, *recordingMailer, *tokenstore.MemoryStore) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	mailer := &recordingMailer{}
	store := tokenstore.NewMemoryStore()
	svc := NewAuthService(db, log, repos.NewUserRepo(db, log), store, mailer, "test-secret", time.Hour, time.Hour)
	return svc, mailer, store
}

func TestAuthRegisterActivateLogin(t *testing.T) {
	svc, mailer, store := newAuthFixture(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterInput{Email: "Aria@Example.com", Password: "s3cret-pass", FirstName: "Aria"})
	require.NoError(t, err)
	assert.False(t, u.IsActive)
	assert.Equal(t, "aria", u.Username)
	assert.NotEqual(t, "s3cret-pass", u.Password)

	_, err = svc.Login(ctx, "aria@example.com", "s3cret-pass")
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	token := mailer.tokenFor("aria@example.com")
	require.NotEmpty(t, token)
	already, err := svc.Activate(ctx, token)
	require.NoError(t, err)
	assert.False(t, already)
	already, err = svc.Activate(ctx, token)
	require.NoError(t, err)
	assert.True(t, already)

	res, err := svc.Login(ctx, "aria@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.Len(t, res.Token, 64)
	assert.Equal(t, time.Hour, res.ExpiresIn)
	assert.NotNil(t, res.User.LastLogin)
	assert.Equal(t, 1, store.Len())

	authed, err := svc.SetContextFromToken(ctx, res.Token)
	require.NoError(t, err)
	rd := ctxutil.GetRequestData(authed)
	require.NotNil(t, rd)
	assert.Equal(t, u.ID, rd.UserID)

	me, err := svc.Me(authed)
	require.NoError(t, err)
	assert.Equal(t, "aria@example.com", me.Email)

	require.NoError(t, svc.Logout(authed))
	_, err = svc.SetContextFromToken(ctx, res.Token)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	require.NoError(t, svc.Logout(authed))
}

func TestAuthRegisterRejectsDuplicates(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Email: "tom@example.com", Password: "pw-123456"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterInput{Email: "TOM@example.com", Password: "pw-123456", Username: "other"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = svc.Register(ctx, RegisterInput{Email: "tom2@example.com", Password: "pw-123456", Username: "tom"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = svc.Register(ctx, RegisterInput{Email: "not-an-email", Password: "pw"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestAuthLoginFailures(t *testing.T) {
	svc, mailer, _ := newAuthFixture(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Email: "mia@example.com", Password: "right-password"})
	require.NoError(t, err)
	_, err = svc.Activate(ctx, mailer.tokenFor("mia@example.com"))
	require.NoError(t, err)

	_, err = svc.Login(ctx, "mia@example.com", "wrong-password")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	_, err = svc.Login(ctx, "nobody@example.com", "right-password")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	_, err = svc.Login(ctx, "", "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestAuthActivateRejectsBadTokens(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	ctx := context.Background()

	_, err := svc.Activate(ctx, "garbage")
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	other := NewAuthService(nil, testutil.Logger(t), nil, nil, nil, "other-secret", time.Hour, time.Hour).(*authService)
	forged, err := other.activationToken(&types.User{})
	require.NoError(t, err)
	_, err = svc.Activate(ctx, forged)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestAuthResendActivation(t *testing.T) {
	svc, mailer, _ := newAuthFixture(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Email: "zoe@example.com", Password: "pw-123456"})
	require.NoError(t, err)
	first := mailer.tokenFor("zoe@example.com")

	require.NoError(t, svc.ResendActivation(ctx, "zoe@example.com"))
	assert.NotEmpty(t, mailer.tokenFor("zoe@example.com"))
	assert.NotEmpty(t, first)

	require.NoError(t, svc.ResendActivation(ctx, "unknown@example.com"))
	assert.ErrorIs(t, svc.ResendActivation(ctx, " "), apperrors.ErrInvalidArgument)
}
