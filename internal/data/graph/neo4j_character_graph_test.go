package graph

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/kanda-backend/internal/domain/character"
)

func TestRelationshipRows(t *testing.T) {
	c := character.New(uuid.New(), "Aria", "a thief", nil, false, time.Now())
	c.ApplyContent(character.Content{
		Relationships: []character.Entry{
			{"name": "Bo  Reyes", "relationship": "brother"},
			{"name": "bo reyes", "relationship": "duplicate"},
			{"type": "rival"},
			{"character": "Mara", "kind": "mentor", "description": "taught her the trade"},
		},
	})

	rows := RelationshipRows(c, "now")
	require.Len(t, rows, 2)
	assert.Equal(t, "bo reyes", rows[0]["name_norm"])
	assert.Equal(t, "brother", rows[0]["kind"])
	assert.Equal(t, "Mara", rows[1]["name"])
	assert.Equal(t, "mentor", rows[1]["kind"])
	assert.Equal(t, "taught her the trade", rows[1]["description"])
}

func TestNewCharacterGraphNilClient(t *testing.T) {
	assert.Nil(t, NewCharacterGraph(nil, nil))
}
