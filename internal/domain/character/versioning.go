package character

import (
	"time"

	"gorm.io/datatypes"
)

// ArchiveIfNonEmpty snapshots the current content into Versions and bumps
// VersionNumber, but only when personality, background or appearance holds
// data. It reports whether a snapshot was taken. Must run before the content
// is overwritten.
func ArchiveIfNonEmpty(c *CharacterProfile, now time.Time) bool {
	if c == nil || !c.HasContent() {
		return false
	}
	if c.VersionNumber < 1 {
		c.VersionNumber = 1
	}
	cur := c.CurrentContent()
	snap := VersionSnapshot{
		VersionNumber: c.VersionNumber,
		Personality:   cur.Personality,
		Background:    cur.Background,
		Appearance:    cur.Appearance,
		Relationships: cur.Relationships,
		Abilities:     cur.Abilities,
		UpdatedAt:     c.UpdatedAt,
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = now
	}
	versions := make(datatypes.JSONSlice[VersionSnapshot], 0, len(c.Versions)+1)
	versions = append(versions, c.Versions...)
	c.Versions = append(versions, snap)
	c.VersionNumber++
	return true
}

// HistoryConsistent checks the version bookkeeping: one snapshot per
// archived overwrite, numbered from 1.
func HistoryConsistent(c *CharacterProfile) bool {
	if c == nil {
		return false
	}
	if len(c.Versions) != c.VersionNumber-1 {
		return false
	}
	for i, v := range c.Versions {
		if v.VersionNumber != i+1 {
			return false
		}
	}
	return true
}
