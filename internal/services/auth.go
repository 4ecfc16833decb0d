package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/yungbote/kanda-backend/internal/data/repos"
	types "github.com/yungbote/kanda-backend/internal/domain"
	"github.com/yungbote/kanda-backend/internal/domain/user"
	"github.com/yungbote/kanda-backend/internal/pkg/ctxutil"
	"github.com/yungbote/kanda-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/kanda-backend/internal/pkg/errors"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
	"github.com/yungbote/kanda-backend/internal/platform/tokenstore"
)

const activationPurpose = "activate"

type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type LoginResult struct {
	Token     string
	ExpiresIn time.Duration
	User      *types.User
}

type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*types.User, error)
	// Activate reports alreadyActive=true when the link was used before.
	Activate(ctx context.Context, token string) (alreadyActive bool, err error)
	ResendActivation(ctx context.Context, email string) error
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	Logout(ctx context.Context) error
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	Me(ctx context.Context) (*types.User, error)
	SessionTTL() time.Duration
}

type authService struct {
	db            *gorm.DB
	log           *logger.Logger
	userRepo      repos.UserRepo
	sessions      tokenstore.Store
	mailer        Mailer
	jwtSecretKey  string
	sessionTTL    time.Duration
	activationTTL time.Duration
}

func NewAuthService(
	db *gorm.DB,
	log *logger.Logger,
	userRepo repos.UserRepo,
	sessions tokenstore.Store,
	mailer Mailer,
	jwtSecretKey string,
	sessionTTL time.Duration,
	activationTTL time.Duration,
) AuthService {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	if activationTTL <= 0 {
		activationTTL = 72 * time.Hour
	}
	return &authService{
		db:            db,
		log:           log.With("service", "AuthService"),
		userRepo:      userRepo,
		sessions:      sessions,
		mailer:        mailer,
		jwtSecretKey:  jwtSecretKey,
		sessionTTL:    sessionTTL,
		activationTTL: activationTTL,
	}
}

func (as *authService) SessionTTL() time.Duration { return as.sessionTTL }

func (as *authService) Register(ctx context.Context, in RegisterInput) (*types.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	password := in.Password
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", apperrors.ErrInvalidArgument)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email format", apperrors.ErrInvalidArgument)
	}
	username := strings.TrimSpace(in.Username)
	if username == "" {
		username = strings.SplitN(email, "@", 2)[0]
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	u := &types.User{
		ID:            uuid.New(),
		Username:      username,
		Email:         email,
		Password:      string(hash),
		FirstName:     strings.TrimSpace(in.FirstName),
		LastName:      strings.TrimSpace(in.LastName),
		IsActive:      false,
		MaxCharacters: user.DefaultMaxCharacters,
		DateJoined:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		taken, err := as.userRepo.EmailExists(dbc, email)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: this email is already registered", apperrors.ErrConflict)
		}
		taken, err = as.userRepo.UsernameExists(dbc, username)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: this username is already in use", apperrors.ErrConflict)
		}
		if _, err := as.userRepo.Create(dbc, []*types.User{u}); err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: a user with these details already exists", apperrors.ErrConflict)
			}
			return fmt.Errorf("create user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	as.sendActivation(ctx, u)
	as.log.Info("user registered", "user_id", u.ID.String())
	return u, nil
}

// sendActivation never fails registration; the user can ask for a new link.
func (as *authService) sendActivation(ctx context.Context, u *types.User) {
	token, err := as.activationToken(u)
	if err != nil {
		as.log.Error("sign activation token failed", "user_id", u.ID.String(), "error", err)
		return
	}
	if as.mailer == nil {
		return
	}
	if err := as.mailer.SendActivation(ctx, u, token); err != nil {
		as.log.Warn("activation mail failed", "user_id", u.ID.String(), "error", err)
	}
}

type activationClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

func (as *authService) activationToken(u *types.User) (string, error) {
	now := time.Now()
	claims := activationClaims{
		Purpose: activationPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(as.activationTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(as.jwtSecretKey))
}

func (as *authService) Activate(ctx context.Context, token string) (bool, error) {
	invalid := fmt.Errorf("%w: invalid activation link", apperrors.ErrInvalidArgument)
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), &activationClaims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(as.jwtSecretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return false, invalid
	}
	claims, ok := parsed.Claims.(*activationClaims)
	if !ok || claims.Purpose != activationPurpose {
		return false, invalid
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return false, invalid
	}

	dbc := dbctx.Context{Ctx: ctx}
	u, err := as.userRepo.GetByID(dbc, userID)
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}
	if u == nil {
		return false, invalid
	}
	if u.IsActive {
		return true, nil
	}
	if _, err := as.userRepo.Activate(dbc, userID); err != nil {
		return false, fmt.Errorf("activate user: %w", err)
	}
	as.log.Info("account activated", "user_id", userID.String())
	return false, nil
}

// ResendActivation is silent about unknown and already active addresses.
func (as *authService) ResendActivation(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("%w: email is required", apperrors.ErrInvalidArgument)
	}
	u, err := as.userRepo.GetByEmail(dbctx.Context{Ctx: ctx}, email)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if u == nil || u.IsActive {
		return nil
	}
	as.sendActivation(ctx, u)
	return nil
}

func (as *authService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", apperrors.ErrInvalidArgument)
	}
	invalid := fmt.Errorf("%w: invalid credentials", apperrors.ErrUnauthorized)

	dbc := dbctx.Context{Ctx: ctx}
	u, err := as.userRepo.GetByEmail(dbc, email)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u == nil {
		as.log.Warn("login for unknown email")
		return nil, invalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		as.log.Warn("login with wrong password", "user_id", u.ID.String())
		return nil, invalid
	}
	if !u.IsActive {
		return nil, fmt.Errorf("%w: account not activated", apperrors.ErrForbidden)
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}
	if err := as.sessions.Put(ctx, token, u.ID.String(), as.sessionTTL); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	now := time.Now().UTC()
	if err := as.userRepo.TouchLastLogin(dbc, u.ID, now); err != nil {
		as.log.Warn("touch last_login failed", "user_id", u.ID.String(), "error", err)
	}
	u.LastLogin = &now

	as.log.Info("login", "user_id", u.ID.String())
	return &LoginResult{Token: token, ExpiresIn: as.sessionTTL, User: u}, nil
}

func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Logout is idempotent: an unknown or expired token is not an error.
func (as *authService) Logout(ctx context.Context) error {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.TokenString == "" {
		return nil
	}
	if err := as.sessions.Delete(ctx, rd.TokenString); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return ctx, fmt.Errorf("%w: missing token", apperrors.ErrUnauthorized)
	}
	raw, ok, err := as.sessions.Get(ctx, tokenString)
	if err != nil {
		return ctx, fmt.Errorf("lookup session: %w", err)
	}
	if !ok {
		return ctx, fmt.Errorf("%w: invalid or expired token", apperrors.ErrUnauthorized)
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return ctx, fmt.Errorf("%w: invalid or expired token", apperrors.ErrUnauthorized)
	}
	u, err := as.userRepo.GetByID(dbctx.Context{Ctx: ctx}, userID)
	if err != nil {
		return ctx, fmt.Errorf("load user: %w", err)
	}
	if u == nil || !u.IsActive {
		return ctx, fmt.Errorf("%w: user inactive or deleted", apperrors.ErrUnauthorized)
	}
	return ctxutil.WithRequestData(ctx, &ctxutil.RequestData{
		TokenString: tokenString,
		UserID:      u.ID,
		IsStaff:     u.IsStaff,
	}), nil
}

func (as *authService) Me(ctx context.Context) (*types.User, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apperrors.ErrUnauthorized
	}
	u, err := as.userRepo.GetByID(dbctx.Context{Ctx: ctx}, rd.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u == nil {
		return nil, fmt.Errorf("%w: user not found", apperrors.ErrNotFound)
	}
	return u, nil
}
