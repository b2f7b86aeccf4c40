package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/storyweave/collab/internal/database"
	"github.com/storyweave/collab/internal/server"
	"github.com/storyweave/collab/internal/types"
	"github.com/teris-io/shortid"
)

type ShareStoryRequest struct {
	UserId int                  `json:"user_id"`
	Role   types.PermissionRole `json:"role"`
}

type PermissionsResponse struct {
	Permissions []types.StoryPermission `json:"permissions"`
}

type ParticipantsResponse struct {
	Participants []types.Participant `json:"participants"`
}

func (s *CollabApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func storyIdFromPath(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("story_id"))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// requireStoryRole resolves the request identity and enforces the required
// role on the story. On failure it writes the error response and returns
// ok = false.
func (s *CollabApp) requireStoryRole(w http.ResponseWriter, r *http.Request, required types.PermissionRole) (Identity, int, bool) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return Identity{}, 0, false
	}

	storyId, ok := storyIdFromPath(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return Identity{}, 0, false
	}

	allowed, err := s.db.CheckStoryPermission(storyId, identity.UserId, required)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return Identity{}, 0, false
	}
	if !allowed {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return Identity{}, 0, false
	}

	return identity, storyId, true
}

func (s *CollabApp) serveWs(w http.ResponseWriter, r *http.Request) {
	identity, storyId, ok := s.requireStoryRole(w, r, types.RoleViewer)
	if !ok {
		return
	}

	connId, err := shortid.Generate()
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(types.Participant{
		ConnectionId: connId,
		UserId:       identity.UserId,
		DisplayName:  identity.DisplayName,
		Email:        identity.Email,
		JoinedAt:     server.Now(),
	}, conn, s.cs, s.log)

	s.cs.Register(strconv.Itoa(storyId), client)
	go client.Write()
	go client.Read()
}

func (s *CollabApp) shareStory(w http.ResponseWriter, r *http.Request) {
	identity, storyId, ok := s.requireStoryRole(w, r, types.RoleOwner)
	if !ok {
		return
	}

	var req ShareStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.UserId <= 0 || !req.Role.Valid() {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	permission, err := s.db.CreateStoryPermission(database.CreateStoryPermissionParams{
		StoryId:   storyId,
		UserId:    req.UserId,
		Role:      req.Role,
		InvitedBy: identity.UserId,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, permission)
}

func (s *CollabApp) getStoryPermissions(w http.ResponseWriter, r *http.Request) {
	_, storyId, ok := s.requireStoryRole(w, r, types.RoleViewer)
	if !ok {
		return
	}

	permissions, err := s.db.GetStoryPermissions(storyId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if permissions == nil {
		permissions = []types.StoryPermission{}
	}

	s.writeJson(w, http.StatusOK, PermissionsResponse{Permissions: permissions})
}

func (s *CollabApp) getRoomParticipants(w http.ResponseWriter, r *http.Request) {
	_, storyId, ok := s.requireStoryRole(w, r, types.RoleViewer)
	if !ok {
		return
	}

	participants := s.cs.RoomParticipants(strconv.Itoa(storyId))
	if participants == nil {
		participants = []types.Participant{}
	}

	s.writeJson(w, http.StatusOK, ParticipantsResponse{Participants: participants})
}
