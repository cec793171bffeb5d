package mocks

import (
	"context"

	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/models"

	"github.com/stretchr/testify/mock"
)

// MockProvider is a mock type for the Provider type
type MockProvider struct {
	mock.Mock
}

// Complete provides a mock function with given fields: ctx, systemPrompt, userPrompt, params
func (_m *MockProvider) Complete(ctx context.Context, systemPrompt string, userPrompt string, params interfaces.GenerationParams) (string, error) {
	ret := _m.Called(ctx, systemPrompt, userPrompt, params)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, string, string, interfaces.GenerationParams) string); ok {
		r0 = rf(ctx, systemPrompt, userPrompt, params)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(string)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string, string, interfaces.GenerationParams) error); ok {
		r1 = rf(ctx, systemPrompt, userPrompt, params)
	} else {
		r1 = ret.Error(1)
	}
	return r0, r1
}

// Stream provides a mock function with given fields: ctx, systemPrompt, userPrompt, params, onChunk.
// Chunks configured with StreamChunks are delivered before the configured error is returned.
func (_m *MockProvider) Stream(ctx context.Context, systemPrompt string, userPrompt string, params interfaces.GenerationParams, onChunk func(string) error) error {
	ret := _m.Called(ctx, systemPrompt, userPrompt, params, onChunk)

	if chunks, ok := ret.Get(0).([]string); ok {
		for _, c := range chunks {
			if err := onChunk(c); err != nil {
				return err
			}
		}
		return ret.Error(1)
	}
	return ret.Error(0)
}

// NewMockProvider creates a new instance of MockProvider. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockProvider(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockProvider {
	m := &MockProvider{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ interfaces.Provider = (*MockProvider)(nil)

// MockCompletionOracle is a mock type for the CompletionOracle type
type MockCompletionOracle struct {
	mock.Mock
}

// Judge provides a mock function with given fields: ctx, stage, brief
func (_m *MockCompletionOracle) Judge(ctx context.Context, stage models.PacingStage, brief string) (interfaces.StageVerdict, error) {
	ret := _m.Called(ctx, stage, brief)

	var r0 interfaces.StageVerdict
	if rf, ok := ret.Get(0).(func(context.Context, models.PacingStage, string) interfaces.StageVerdict); ok {
		r0 = rf(ctx, stage, brief)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(interfaces.StageVerdict)
	}
	return r0, ret.Error(1)
}

func NewMockCompletionOracle(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockCompletionOracle {
	m := &MockCompletionOracle{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ interfaces.CompletionOracle = (*MockCompletionOracle)(nil)
