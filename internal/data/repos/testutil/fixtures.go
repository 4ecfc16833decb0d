package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/kanda-backend/internal/domain"
	"github.com/yungbote/kanda-backend/internal/domain/character"
	"github.com/yungbote/kanda-backend/internal/domain/user"
)

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, username string) *types.User {
	tb.Helper()
	now := time.Now().UTC()
	u := &user.User{
		ID:            uuid.New(),
		Username:      username,
		Email:         username + "@kanda.test",
		Password:      "pw",
		FirstName:     "A",
		LastName:      "B",
		IsActive:      true,
		MaxCharacters: user.DefaultMaxCharacters,
		DateJoined:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedCharacter(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, name, description string) *types.CharacterProfile {
	tb.Helper()
	c := character.New(ownerID, name, description, nil, false, time.Now().UTC())
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed character: %v", err)
	}
	return c
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }
