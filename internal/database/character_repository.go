package database

import (
	"context"
	"encoding/json"
	"time"

	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Compile-time check to ensure implementation satisfies the interface.
var _ interfaces.CharacterRepository = (*pgCharacterRepository)(nil)

const listCharactersQuery = `
SELECT id, story_id, name, role, traits, key_events, relationships,
       first_appearance, last_appearance, appearance_count, status, created_at, updated_at
FROM characters
WHERE story_id = $1
ORDER BY created_at, id`

const upsertCharacterQuery = `
INSERT INTO characters (id, story_id, name, role, traits, key_events, relationships,
                        first_appearance, last_appearance, appearance_count, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
ON CONFLICT (story_id, name) DO UPDATE SET
    role = EXCLUDED.role,
    traits = EXCLUDED.traits,
    key_events = EXCLUDED.key_events,
    relationships = EXCLUDED.relationships,
    first_appearance = EXCLUDED.first_appearance,
    last_appearance = EXCLUDED.last_appearance,
    appearance_count = EXCLUDED.appearance_count,
    status = EXCLUDED.status,
    updated_at = EXCLUDED.updated_at
RETURNING id, created_at`

type pgCharacterRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

// NewPgCharacterRepository creates a new repository instance.
func NewPgCharacterRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.CharacterRepository {
	return &pgCharacterRepository{db: db, logger: logger.Named("PgCharacterRepo")}
}

// ListByStory returns the raw records. traits/relationships stay as JSON so that a corrupt
// value only empties that field for that character.
func (r *pgCharacterRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.CharacterRecord, error) {
	rows, err := r.db.Query(ctx, listCharactersQuery, storyID)
	if err != nil {
		r.logger.Error("Failed to list characters", zap.Stringer("storyID", storyID), zap.Error(err))
		return nil, wrapDBError("list characters", err)
	}
	defer rows.Close()

	records := make([]models.CharacterRecord, 0)
	for rows.Next() {
		var rec models.CharacterRecord
		var keyEvents pq.StringArray
		if err := rows.Scan(
			&rec.ID,
			&rec.StoryID,
			&rec.Name,
			&rec.Role,
			&rec.TraitsJSON,
			&keyEvents,
			&rec.RelationshipsJSON,
			&rec.FirstAppearance,
			&rec.LastAppearance,
			&rec.AppearanceCount,
			&rec.Status,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			r.logger.Error("Failed to scan character row", zap.Stringer("storyID", storyID), zap.Error(err))
			return nil, wrapDBError("scan character", err)
		}
		rec.KeyEvents = []string(keyEvents)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate characters", err)
	}
	return records, nil
}

// Upsert creates or updates a character by (story, name).
func (r *pgCharacterRepository) Upsert(ctx context.Context, c *models.CharacterProfile) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = models.StatusActive
	}
	traits := c.Traits
	if traits == nil {
		traits = []string{}
	}
	traitsJSON, err := json.Marshal(traits)
	if err != nil {
		return err
	}
	relationships := c.Relationships
	if relationships == nil {
		relationships = map[string]string{}
	}
	relationshipsJSON, err := json.Marshal(relationships)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	c.UpdatedAt = now

	err = r.db.QueryRow(ctx, upsertCharacterQuery,
		c.ID, c.StoryID, c.Name, c.Role, traitsJSON, pq.Array(c.KeyEvents), relationshipsJSON,
		c.FirstAppearance, c.LastAppearance, c.AppearanceCount, c.Status, now,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to upsert character", zap.Stringer("storyID", c.StoryID), zap.String("name", c.Name), zap.Error(err))
		return wrapDBError("upsert character", err)
	}
	return nil
}
