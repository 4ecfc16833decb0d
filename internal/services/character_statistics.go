package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/kanda-backend/internal/data/repos"
	types "github.com/yungbote/kanda-backend/internal/domain"
	"github.com/yungbote/kanda-backend/internal/domain/character"
	"github.com/yungbote/kanda-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/kanda-backend/internal/pkg/errors"
)

type CharacterCounts struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Public     int64 `json:"public"`
	Private    int64 `json:"private"`
}

type CharacterSummary struct {
	ID        uuid.UUID        `json:"id"`
	Name      string           `json:"name"`
	User      string           `json:"user,omitempty"`
	Status    character.Status `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

type FailedCharacter struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	User        string     `json:"user,omitempty"`
	Error       string     `json:"error"`
	Attempts    int        `json:"attempts"`
	LastAttempt *time.Time `json:"last_attempt"`
}

type UserCounts struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Inactive int64 `json:"inactive"`
}

type TopUser struct {
	Username       string    `json:"username"`
	CharacterCount int64     `json:"character_count"`
	Joined         time.Time `json:"joined"`
}

type UserStatistics struct {
	Statistics       CharacterCounts    `json:"statistics"`
	RecentCharacters []CharacterSummary `json:"recent_characters"`
	FailedCharacters []FailedCharacter  `json:"failed_characters"`
}

type AdminStatistics struct {
	GlobalStatistics CharacterCounts    `json:"global_statistics"`
	UserStatistics   UserCounts         `json:"user_statistics"`
	TopUsers         []TopUser          `json:"top_users"`
	RecentCharacters []CharacterSummary `json:"recent_characters"`
	FailedCharacters []FailedCharacter  `json:"failed_characters"`
}

func (s *characterService) counts(dbc dbctx.Context, owner *uuid.UUID) (CharacterCounts, error) {
	var out CharacterCounts
	byStatus, err := s.characters.CountByStatus(dbc, owner)
	if err != nil {
		return out, fmt.Errorf("count by status: %w", err)
	}
	public, err := s.characters.CountPublic(dbc, owner)
	if err != nil {
		return out, fmt.Errorf("count public: %w", err)
	}
	out.Pending = byStatus[character.StatusPending]
	out.Processing = byStatus[character.StatusProcessing]
	out.Completed = byStatus[character.StatusCompleted]
	out.Failed = byStatus[character.StatusFailed]
	out.Total = out.Pending + out.Processing + out.Completed + out.Failed
	out.Public = public
	out.Private = out.Total - public
	return out, nil
}

func (s *characterService) UserStatistics(ctx context.Context) (*UserStatistics, error) {
	rd, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	owner := rd.UserID

	counts, err := s.counts(dbc, &owner)
	if err != nil {
		return nil, err
	}
	recent, err := s.characters.ListRecent(dbc, &owner, "", 5)
	if err != nil {
		return nil, fmt.Errorf("recent characters: %w", err)
	}
	failed, err := s.characters.ListByOwner(dbc, owner, repos.CharacterListFilter{Status: character.StatusFailed})
	if err != nil {
		return nil, fmt.Errorf("failed characters: %w", err)
	}
	return &UserStatistics{
		Statistics:       counts,
		RecentCharacters: summaries(recent, nil),
		FailedCharacters: failures(failed, nil),
	}, nil
}

func (s *characterService) AdminStatistics(ctx context.Context) (*AdminStatistics, error) {
	rd, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if !rd.IsStaff {
		return nil, fmt.Errorf("%w: staff only", apperrors.ErrForbidden)
	}
	dbc := dbctx.Context{Ctx: ctx}

	counts, err := s.counts(dbc, nil)
	if err != nil {
		return nil, err
	}
	total, err := s.users.Count(dbc)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	active, err := s.users.CountActive(dbc)
	if err != nil {
		return nil, fmt.Errorf("count active users: %w", err)
	}
	top, err := s.characters.TopOwners(dbc, 10)
	if err != nil {
		return nil, fmt.Errorf("top owners: %w", err)
	}
	recent, err := s.characters.ListRecent(dbc, nil, "", 10)
	if err != nil {
		return nil, fmt.Errorf("recent characters: %w", err)
	}
	failed, err := s.characters.ListRecent(dbc, nil, character.StatusFailed, 10)
	if err != nil {
		return nil, fmt.Errorf("failed characters: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(top)+len(recent)+len(failed))
	for _, t := range top {
		ids = append(ids, t.OwnerUserID)
	}
	for _, c := range append(append([]*types.CharacterProfile{}, recent...), failed...) {
		ids = append(ids, c.OwnerUserID)
	}
	users, err := s.users.GetByIDs(dbc, ids)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	byID := make(map[uuid.UUID]*types.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	topUsers := make([]TopUser, 0, len(top))
	for _, t := range top {
		u := byID[t.OwnerUserID]
		if u == nil {
			continue
		}
		topUsers = append(topUsers, TopUser{Username: u.Username, CharacterCount: t.Count, Joined: u.DateJoined})
	}

	return &AdminStatistics{
		GlobalStatistics: counts,
		UserStatistics: UserCounts{
			Total:    total,
			Active:   active,
			Inactive: total - active,
		},
		TopUsers:         topUsers,
		RecentCharacters: summaries(recent, byID),
		FailedCharacters: failures(failed, byID),
	}, nil
}

func usernameOf(users map[uuid.UUID]*types.User, id uuid.UUID) string {
	if u := users[id]; u != nil {
		return u.Username
	}
	return ""
}

func summaries(list []*types.CharacterProfile, users map[uuid.UUID]*types.User) []CharacterSummary {
	out := make([]CharacterSummary, 0, len(list))
	for _, c := range list {
		out = append(out, CharacterSummary{
			ID:        c.ID,
			Name:      c.Name,
			User:      usernameOf(users, c.OwnerUserID),
			Status:    c.ProcessingStatus.Status,
			CreatedAt: c.CreatedAt,
		})
	}
	return out
}

func failures(list []*types.CharacterProfile, users map[uuid.UUID]*types.User) []FailedCharacter {
	out := make([]FailedCharacter, 0, len(list))
	for _, c := range list {
		out = append(out, FailedCharacter{
			ID:          c.ID,
			Name:        c.Name,
			User:        usernameOf(users, c.OwnerUserID),
			Error:       c.ProcessingStatus.ErrorMessage,
			Attempts:    c.ProcessingStatus.Attempts,
			LastAttempt: c.ProcessingStatus.LastAttempt,
		})
	}
	return out
}
