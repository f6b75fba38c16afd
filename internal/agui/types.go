package agui

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrSessionNotFound   = errors.New("agui session not found")
	ErrSessionClosed     = errors.New("agui session closed")
	ErrInvalidAction     = errors.New("invalid agent action")
	ErrInvalidConfidence = errors.New("confidence must be within [0, 1]")
	ErrInvalidResponse   = errors.New("invalid user response")
)

// ActionType 描述 agent 即将执行的步骤类型。
type ActionType string

const (
	ActionClassify ActionType = "classify"
	ActionExtract  ActionType = "extract"
	ActionValidate ActionType = "validate"
	ActionComplete ActionType = "complete"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionClassify, ActionExtract, ActionValidate, ActionComplete:
		return true
	default:
		return false
	}
}

// UserResponse 是用户对需要确认的步骤给出的回应。
type UserResponse string

const (
	ResponseApprove UserResponse = "approve"
	ResponseReject  UserResponse = "reject"
	ResponseModify  UserResponse = "modify"
	ResponseSkip    UserResponse = "skip"
)

// ParseUserResponse 规范化并校验用户回应。
func ParseUserResponse(raw string) (UserResponse, error) {
	resp := UserResponse(strings.ToLower(strings.TrimSpace(raw)))
	switch resp {
	case ResponseApprove, ResponseReject, ResponseModify, ResponseSkip:
		return resp, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidResponse, raw)
	}
}

// Announcement 是 agent 对下一步动作的声明，创建后不可变。
type Announcement struct {
	action           ActionType
	message          string
	confidence       *float64
	requiresApproval bool
	canUndo          bool
}

// AnnouncementSpec 是 NewAnnouncement 的入参。
type AnnouncementSpec struct {
	Action           ActionType
	Message          string
	Confidence       *float64
	RequiresApproval bool
	CanUndo          bool
}

// NewAnnouncement validates the action and the optional confidence.
func NewAnnouncement(spec AnnouncementSpec) (Announcement, error) {
	if !spec.Action.Valid() {
		return Announcement{}, fmt.Errorf("%w: %q", ErrInvalidAction, spec.Action)
	}
	var conf *float64
	if spec.Confidence != nil {
		c := *spec.Confidence
		if math.IsNaN(c) || c < 0 || c > 1 {
			return Announcement{}, fmt.Errorf("%w: got %v", ErrInvalidConfidence, c)
		}
		conf = &c
	}
	return Announcement{
		action:           spec.Action,
		message:          spec.Message,
		confidence:       conf,
		requiresApproval: spec.RequiresApproval,
		canUndo:          spec.CanUndo,
	}, nil
}

func (a Announcement) Action() ActionType     { return a.action }
func (a Announcement) Message() string        { return a.message }
func (a Announcement) RequiresApproval() bool { return a.requiresApproval }
func (a Announcement) CanUndo() bool          { return a.canUndo }

// Confidence returns the confidence and whether it was supplied.
func (a Announcement) Confidence() (float64, bool) {
	if a.confidence == nil {
		return 0, false
	}
	return *a.confidence, true
}

// Interaction 记录一次完整的 agent 声明 + 用户回应 + 执行结果。
type Interaction struct {
	SessionID    string
	SubjectID    string
	ActorID      string
	Step         int
	Announcement Announcement
	Response     *UserResponse
	Result       map[string]any
	Timestamp    time.Time
}

// Reversible reports whether undo may remove this interaction.
func (i Interaction) Reversible() bool {
	return i.Announcement.CanUndo()
}

// HistoryEntry 是对外暴露的历史视图，字段顺序与 JSON 契约一致。
type HistoryEntry struct {
	Step         int           `json:"step"`
	Action       ActionType    `json:"action"`
	Message      string        `json:"message"`
	UserResponse *UserResponse `json:"user_response"`
	Timestamp    string        `json:"timestamp"`
}

// SessionState is either active or closed.
type SessionState string

const (
	StateActive SessionState = "active"
	StateClosed SessionState = "closed"
)
