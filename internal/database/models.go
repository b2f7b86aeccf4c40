package database

import (
	"github.com/storyweave/collab/internal/types"
)

type CreateStoryPermissionParams struct {
	StoryId   int
	UserId    int
	Role      types.PermissionRole
	InvitedBy int
}
