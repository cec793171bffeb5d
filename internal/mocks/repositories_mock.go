package mocks

import (
	"context"

	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockCharacterRepository is a mock type for the CharacterRepository type
type MockCharacterRepository struct {
	mock.Mock
}

func (_m *MockCharacterRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.CharacterRecord, error) {
	ret := _m.Called(ctx, storyID)
	var r0 []models.CharacterRecord
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.CharacterRecord)
	}
	return r0, ret.Error(1)
}

func (_m *MockCharacterRepository) Upsert(ctx context.Context, character *models.CharacterProfile) error {
	ret := _m.Called(ctx, character)
	return ret.Error(0)
}

var _ interfaces.CharacterRepository = (*MockCharacterRepository)(nil)

// MockChronicleRepository is a mock type for the ChronicleRepository type
type MockChronicleRepository struct {
	mock.Mock
}

func (_m *MockChronicleRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.ChronicleEvent, error) {
	ret := _m.Called(ctx, storyID)
	var r0 []models.ChronicleEvent
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.ChronicleEvent)
	}
	return r0, ret.Error(1)
}

func (_m *MockChronicleRepository) Append(ctx context.Context, event *models.ChronicleEvent) error {
	ret := _m.Called(ctx, event)
	return ret.Error(0)
}

var _ interfaces.ChronicleRepository = (*MockChronicleRepository)(nil)

// MockForeshadowingRepository is a mock type for the ForeshadowingRepository type
type MockForeshadowingRepository struct {
	mock.Mock
}

func (_m *MockForeshadowingRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.ForeshadowingItem, error) {
	ret := _m.Called(ctx, storyID)
	var r0 []models.ForeshadowingItem
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.ForeshadowingItem)
	}
	return r0, ret.Error(1)
}

func (_m *MockForeshadowingRepository) Create(ctx context.Context, item *models.ForeshadowingItem) error {
	ret := _m.Called(ctx, item)
	return ret.Error(0)
}

func (_m *MockForeshadowingRepository) Resolve(ctx context.Context, storyID, itemID uuid.UUID, chapter int) error {
	ret := _m.Called(ctx, storyID, itemID, chapter)
	return ret.Error(0)
}

var _ interfaces.ForeshadowingRepository = (*MockForeshadowingRepository)(nil)

// MockSummaryRepository is a mock type for the SummaryRepository type
type MockSummaryRepository struct {
	mock.Mock
}

func (_m *MockSummaryRepository) Get(ctx context.Context, storyID uuid.UUID, chapter int) (*models.ChapterSummary, error) {
	ret := _m.Called(ctx, storyID, chapter)
	var r0 *models.ChapterSummary
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.ChapterSummary)
	}
	return r0, ret.Error(1)
}

func (_m *MockSummaryRepository) Upsert(ctx context.Context, summary *models.ChapterSummary) error {
	ret := _m.Called(ctx, summary)
	return ret.Error(0)
}

func (_m *MockSummaryRepository) Delete(ctx context.Context, storyID uuid.UUID, chapter int) error {
	ret := _m.Called(ctx, storyID, chapter)
	return ret.Error(0)
}

func (_m *MockSummaryRepository) ListRecent(ctx context.Context, storyID uuid.UUID, limit int) ([]models.ChapterSummary, error) {
	ret := _m.Called(ctx, storyID, limit)
	var r0 []models.ChapterSummary
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.ChapterSummary)
	}
	return r0, ret.Error(1)
}

var _ interfaces.SummaryRepository = (*MockSummaryRepository)(nil)

// MockWorldFactRepository is a mock type for the WorldFactRepository type
type MockWorldFactRepository struct {
	mock.Mock
}

func (_m *MockWorldFactRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.WorldFact, error) {
	ret := _m.Called(ctx, storyID)
	var r0 []models.WorldFact
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.WorldFact)
	}
	return r0, ret.Error(1)
}

func (_m *MockWorldFactRepository) AddMany(ctx context.Context, facts []models.WorldFact) (int, error) {
	ret := _m.Called(ctx, facts)
	return ret.Int(0), ret.Error(1)
}

var _ interfaces.WorldFactRepository = (*MockWorldFactRepository)(nil)

// MockChapterRepository is a mock type for the ChapterRepository type
type MockChapterRepository struct {
	mock.Mock
}

func (_m *MockChapterRepository) Get(ctx context.Context, storyID uuid.UUID, chapter int) (*models.Chapter, error) {
	ret := _m.Called(ctx, storyID, chapter)
	var r0 *models.Chapter
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Chapter)
	}
	return r0, ret.Error(1)
}

func (_m *MockChapterRepository) Save(ctx context.Context, chapter *models.Chapter) error {
	ret := _m.Called(ctx, chapter)
	return ret.Error(0)
}

var _ interfaces.ChapterRepository = (*MockChapterRepository)(nil)

// MockMemoryBankCache is a mock type for the MemoryBankCache type
type MockMemoryBankCache struct {
	mock.Mock
}

func (_m *MockMemoryBankCache) Get(ctx context.Context, storyID uuid.UUID) (*models.MemoryBank, bool, error) {
	ret := _m.Called(ctx, storyID)
	var r0 *models.MemoryBank
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.MemoryBank)
	}
	return r0, ret.Bool(1), ret.Error(2)
}

func (_m *MockMemoryBankCache) Set(ctx context.Context, bank *models.MemoryBank) error {
	ret := _m.Called(ctx, bank)
	return ret.Error(0)
}

func (_m *MockMemoryBankCache) Invalidate(ctx context.Context, storyID uuid.UUID) error {
	ret := _m.Called(ctx, storyID)
	return ret.Error(0)
}

var _ interfaces.MemoryBankCache = (*MockMemoryBankCache)(nil)
