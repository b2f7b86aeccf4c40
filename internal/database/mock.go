package database

import (
	"github.com/storyweave/collab/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockCollabRepository struct {
	mock.Mock
}

func (m *MockCollabRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockCollabRepository) CheckStoryPermission(storyId, userId int, required types.PermissionRole) (bool, error) {
	args := m.Called(storyId, userId, required)
	return args.Bool(0), args.Error(1)
}
func (m *MockCollabRepository) CreateStoryPermission(params CreateStoryPermissionParams) (types.StoryPermission, error) {
	args := m.Called(params)
	return args.Get(0).(types.StoryPermission), args.Error(1)
}
func (m *MockCollabRepository) GetStoryPermissions(storyId int) ([]types.StoryPermission, error) {
	args := m.Called(storyId)
	return args.Get(0).([]types.StoryPermission), args.Error(1)
}
