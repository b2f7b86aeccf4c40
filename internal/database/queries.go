package database

import (
	"database/sql"
	"time"

	"github.com/storyweave/collab/internal/types"
)

// CheckStoryPermission reports whether the user holds at least the required
// role on the story. The owner of the story's project always passes;
// everyone else needs an explicit grant at or above the required level.
func (db *PgCollabRepository) CheckStoryPermission(storyId, userId int, required types.PermissionRole) (bool, error) {
	row := db.conn.QueryRow(
		"SELECT 1 FROM stories s JOIN projects p ON p.id = s.project_id "+
			"WHERE s.id = $1 AND p.user_id = $2 LIMIT 1",
		storyId,
		userId,
	)

	var one int
	err := row.Scan(&one)
	if err == nil {
		return true, nil
	}
	if err != sql.ErrNoRows {
		return false, err
	}

	row = db.conn.QueryRow(
		"SELECT role FROM story_permissions "+
			"WHERE story_id = $1 AND user_id = $2 LIMIT 1",
		storyId,
		userId,
	)

	var role types.PermissionRole
	if err := row.Scan(&role); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}

	return role.Level() >= required.Level(), nil
}

func (db *PgCollabRepository) CreateStoryPermission(params CreateStoryPermissionParams) (types.StoryPermission, error) {
	res := db.conn.QueryRow(
		"INSERT INTO story_permissions (story_id, user_id, role, invited_by, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) "+
			"ON CONFLICT (story_id, user_id) DO UPDATE SET role = EXCLUDED.role, invited_by = EXCLUDED.invited_by "+
			"RETURNING story_id, user_id, role, invited_by, created_at",
		params.StoryId,
		params.UserId,
		params.Role,
		params.InvitedBy,
		time.Now().UTC(),
	)

	var p types.StoryPermission
	err := res.Scan(
		&p.StoryId,
		&p.UserId,
		&p.Role,
		&p.InvitedBy,
		&p.CreatedAt,
	)

	return p, err
}

func (db *PgCollabRepository) GetStoryPermissions(storyId int) ([]types.StoryPermission, error) {
	rows, err := db.conn.Query(
		"SELECT story_id, user_id, role, invited_by, created_at FROM story_permissions "+
			"WHERE story_id = $1 ORDER BY created_at",
		storyId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var permissions []types.StoryPermission
	for rows.Next() {
		var p types.StoryPermission
		if err := rows.Scan(
			&p.StoryId,
			&p.UserId,
			&p.Role,
			&p.InvitedBy,
			&p.CreatedAt,
		); err != nil {
			return nil, err
		}
		permissions = append(permissions, p)
	}

	return permissions, rows.Err()
}
