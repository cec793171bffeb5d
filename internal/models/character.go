package models

import (
	"time"

	"github.com/google/uuid"
)

// CharacterRole - narrative weight of a character.
type CharacterRole string

const (
	RoleProtagonist CharacterRole = "protagonist"
	RoleMajor       CharacterRole = "major"
	RoleMinor       CharacterRole = "minor"
)

// ActivityStatus - whether a character can still appear in the story.
type ActivityStatus string

const (
	StatusActive   ActivityStatus = "active"
	StatusInactive ActivityStatus = "inactive"
	StatusDeceased ActivityStatus = "deceased"
	StatusMissing  ActivityStatus = "missing"
)

// CharacterProfile хранит накопленные сведения о персонаже истории.
// Nullable chapter numbers are pointers: nil means "not seen yet".
type CharacterProfile struct {
	ID              uuid.UUID         `db:"id" json:"id"`
	StoryID         uuid.UUID         `db:"story_id" json:"storyId"`
	Name            string            `db:"name" json:"name"`
	Role            CharacterRole     `db:"role" json:"role"`
	Traits          []string          `db:"-" json:"traits"`
	KeyEvents       []string          `db:"-" json:"keyEvents"`
	Relationships   map[string]string `db:"-" json:"relationships"`
	FirstAppearance *int              `db:"first_appearance" json:"firstAppearance,omitempty"`
	LastAppearance  *int              `db:"last_appearance" json:"lastAppearance,omitempty"`
	AppearanceCount int               `db:"appearance_count" json:"appearanceCount"`
	Status          ActivityStatus    `db:"status" json:"status"`
	CreatedAt       time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updatedAt"`
}

// RecordAppearance updates appearance bookkeeping for a chapter.
func (c *CharacterProfile) RecordAppearance(chapter int) {
	if c.FirstAppearance == nil || chapter < *c.FirstAppearance {
		first := chapter
		c.FirstAppearance = &first
	}
	if c.LastAppearance == nil || chapter > *c.LastAppearance {
		last := chapter
		c.LastAppearance = &last
	}
	c.AppearanceCount++
}

// Validate checks the appearance invariants.
func (c *CharacterProfile) Validate() error {
	if c.Name == "" {
		return Validationf("character name is required")
	}
	switch c.Role {
	case RoleProtagonist, RoleMajor, RoleMinor:
	default:
		return Validationf("unknown character role %q", c.Role)
	}
	if c.FirstAppearance != nil && c.LastAppearance != nil && *c.LastAppearance < *c.FirstAppearance {
		return Conflictf("character %q: last appearance %d before first appearance %d", c.Name, *c.LastAppearance, *c.FirstAppearance)
	}
	if (c.FirstAppearance != nil || c.LastAppearance != nil) && c.AppearanceCount < 1 {
		return Conflictf("character %q: appearance recorded but count is %d", c.Name, c.AppearanceCount)
	}
	return nil
}

// CharacterRecord is a stored character row with its JSON sub-fields still undecoded.
// Decoding is left to the reader so one corrupt value cannot fail a whole listing.
type CharacterRecord struct {
	CharacterProfile
	TraitsJSON        []byte
	RelationshipsJSON []byte
}
