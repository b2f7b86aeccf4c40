package database

import (
	"github.com/storyweave/collab/internal/types"
)

// CollabRepository is the permission collaborator the session controller
// consults before registering a connection with a room. Story and project
// rows are owned by the story CRUD application; this service only reads
// them and writes permission grants.
type CollabRepository interface {
	Ping() error
	CheckStoryPermission(storyId, userId int, required types.PermissionRole) (bool, error)
	CreateStoryPermission(params CreateStoryPermissionParams) (types.StoryPermission, error)
	GetStoryPermissions(storyId int) ([]types.StoryPermission, error)
}
