package messaging

// Well-known wire types. The registry must know every one of these before a
// worker starts consuming; unknown inbound types are rejected.
const (
	TypePing          = "ping"
	TypeReply         = "reply"
	TypePlayGame      = "play_game_request"
	TypeCancelGame    = "cancel_game_request"
	TypeCycleRequest  = "cycle_request"
	TypeCycleResponse = "cycle_response"
	TypeSessionChange = "session_change"
	TypeModelUpdate   = "model_update"
	TypePullRepo      = "pull_repo"
)

const (
	PingReplySuccess   = "success"
	PingReplyFailure   = "failure"
	PingReplyException = "exception"
)

// RegisterWellKnown installs the framework's standard schemas.
func RegisterWellKnown(r *Registry) error {
	schemas := []Schema{
		{Name: TypePing, DrainOnError: true},
		{Name: TypeReply},
		{Name: TypePlayGame},
		{Name: TypeCancelGame},
		{Name: TypeCycleRequest},
		{Name: TypeCycleResponse, Extends: TypeReply},
		{Name: TypeSessionChange},
		{Name: TypeModelUpdate},
		{Name: TypePullRepo},
	}

	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			return err
		}
	}

	return nil
}

// PingPayload drives the self-test loop: the receiving worker replies with
// success, replies with failure, or deliberately raises.
type PingPayload struct {
	ReplyWith string `json:"replyWith"`
}

type ReplyPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type PlayGamePayload struct {
	UserID  string `json:"userId"`
	ArenaID string `json:"arenaId,omitempty"`
}

type CancelGamePayload struct {
	UserID string `json:"userId"`
}

type CycleRequestPayload struct {
	ServerID   string `json:"serverId"`
	MapID      string `json:"mapId"`
	MinPlayers int    `json:"minPlayers"`
	MaxPlayers int    `json:"maxPlayers"`
}

// CycleResponsePayload maps each displaced user to a new server id. A nil
// destination means "send this player to the lobby".
type CycleResponsePayload struct {
	Success      bool               `json:"success"`
	Error        string             `json:"error,omitempty"`
	Destinations map[string]*string `json:"destinations"`
}

// SessionPayload locates a user on a server. Either side of a SessionChange
// may be absent, never both.
type SessionPayload struct {
	UserID   string `json:"userId"`
	ServerID string `json:"serverId"`
}

type SessionChangePayload struct {
	OldSession *SessionPayload `json:"oldSession,omitempty"`
	NewSession *SessionPayload `json:"newSession,omitempty"`
}

type ModelUpdatePayload struct {
	ModelName string         `json:"modelName"`
	Document  map[string]any `json:"document"`
}

type PullRepoPayload struct {
	RepoID string `json:"repoId"`
	Branch string `json:"branch"`
}

func NewPing(replyWith string, opts ...Option) *Message {
	return New(TypePing, map[string]any{"replyWith": replyWith}, opts...)
}

func NewSuccessReply(request *Message) *Message {
	return request.Reply(TypeReply, map[string]any{"success": true})
}

func NewFailureReply(request *Message, errMsg string) *Message {
	return request.Reply(TypeReply, map[string]any{
		"success": false,
		"error":   errMsg,
	})
}

func NewPlayGameRequest(userID, arenaID string, opts ...Option) *Message {
	payload := map[string]any{"userId": userID}
	if arenaID != "" {
		payload["arenaId"] = arenaID
	}
	return New(TypePlayGame, payload, opts...)
}

func NewCancelGameRequest(userID string, opts ...Option) *Message {
	return New(TypeCancelGame, map[string]any{"userId": userID}, opts...)
}

func NewCycleRequest(serverID, mapID string, minPlayers, maxPlayers int, opts ...Option) *Message {
	return New(TypeCycleRequest, map[string]any{
		"serverId":   serverID,
		"mapId":      mapID,
		"minPlayers": minPlayers,
		"maxPlayers": maxPlayers,
	}, opts...)
}

func NewCycleResponse(request *Message, destinations map[string]*string) *Message {
	reply := request.Reply(TypeCycleResponse, map[string]any{
		"success":      true,
		"destinations": destinations,
	})
	return reply
}

func NewSessionChange(oldSession, newSession *SessionPayload, opts ...Option) *Message {
	payload := map[string]any{}
	if oldSession != nil {
		payload["oldSession"] = map[string]any{
			"userId":   oldSession.UserID,
			"serverId": oldSession.ServerID,
		}
	}
	if newSession != nil {
		payload["newSession"] = map[string]any{
			"userId":   newSession.UserID,
			"serverId": newSession.ServerID,
		}
	}
	return New(TypeSessionChange, payload, opts...)
}

func NewModelUpdate(modelName string, document map[string]any, opts ...Option) *Message {
	msg := New(TypeModelUpdate, map[string]any{
		"modelName": modelName,
		"document":  document,
	}, opts...)

	msg.Headers[HeaderModelName] = modelName
	if id, ok := document["id"].(string); ok {
		msg.Headers[HeaderDocumentID] = id
	}

	return msg
}

func NewPullRepo(repoID, branch string, opts ...Option) *Message {
	return New(TypePullRepo, map[string]any{
		"repoId": repoID,
		"branch": branch,
	}, opts...)
}
