package onebot

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/haasonsaas/joingate/internal/platform"
	"github.com/haasonsaas/joingate/internal/requests"
)

// id is a OneBot numeric identifier. Implementations disagree on whether ids
// are sent as numbers or strings, so both are accepted.
type id string

func (i *id) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*i = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*i = id(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*i = id(n.String())
	return nil
}

func (i id) set() bool {
	return i != "" && i != "0"
}

// numeric encodes an id the way OneBot actions expect it: a JSON number when
// it parses as one, a string otherwise.
func numeric(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

type actionRequest struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo"`
}

type actionResponse struct {
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Msg     string          `json:"msg"`
	Wording string          `json:"wording"`
	Echo    string          `json:"echo"`
}

func (r actionResponse) ok() bool {
	return r.Status == "async" || (r.Status != "failed" && r.RetCode == 0)
}

func (r actionResponse) text() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{r.Msg, r.Message, r.Wording} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// frame is the union of everything the implementation sends: action
// responses carry an echo, events carry a post_type.
type frame struct {
	Echo        *string `json:"echo"`
	PostType    string  `json:"post_type"`
	RequestType string  `json:"request_type"`
	MessageType string  `json:"message_type"`
	SubType     string  `json:"sub_type"`

	GroupID    id              `json:"group_id"`
	UserID     id              `json:"user_id"`
	InvitorID  id              `json:"invitor_id"`
	Comment    string          `json:"comment"`
	Flag       string          `json:"flag"`
	RawMessage string          `json:"raw_message"`
	Message    json.RawMessage `json:"message"`
}

// joinEvent converts a group add request event.
func (f frame) joinEvent() (platform.JoinEvent, bool) {
	if f.PostType != "request" || f.RequestType != "group" || f.SubType != "add" {
		return platform.JoinEvent{}, false
	}
	ev := platform.JoinEvent{
		Platform:    Name,
		GroupID:     string(f.GroupID),
		RequesterID: string(f.UserID),
		Comment:     f.Comment,
		Identifiers: requests.Identifiers{Token: f.Flag},
	}
	if f.InvitorID.set() {
		ev.Identifiers.Extra = map[string]string{"invitor": string(f.InvitorID)}
	}
	return ev, true
}

// groupMessage converts a group message event.
func (f frame) groupMessage() (platform.GroupMessage, bool) {
	if f.PostType != "message" || f.MessageType != "group" {
		return platform.GroupMessage{}, false
	}
	text := f.RawMessage
	if text == "" && len(f.Message) > 0 && f.Message[0] == '"' {
		_ = json.Unmarshal(f.Message, &text)
	}
	return platform.GroupMessage{
		Platform: Name,
		GroupID:  string(f.GroupID),
		SenderID: string(f.UserID),
		Text:     text,
	}, true
}

type strangerInfo struct {
	UserID   id     `json:"user_id"`
	Nickname string `json:"nickname"`
}

type systemMessages struct {
	JoinRequests []joinRequestMessage `json:"join_requests"`
}

type joinRequestMessage struct {
	RequestID     id     `json:"request_id"`
	RequesterUin  id     `json:"requester_uin"`
	RequesterNick string `json:"requester_nick"`
	Message       string `json:"message"`
	GroupID       id     `json:"group_id"`
	InvitorUin    id     `json:"invitor_uin"`
	Checked       bool   `json:"checked"`
}

func (m joinRequestMessage) joinEvent() platform.JoinEvent {
	ev := platform.JoinEvent{
		Platform:    Name,
		GroupID:     string(m.GroupID),
		RequesterID: string(m.RequesterUin),
		DisplayName: m.RequesterNick,
		Comment:     m.Message,
		Identifiers: requests.Identifiers{Sequence: string(m.RequestID)},
	}
	if m.InvitorUin.set() {
		ev.Identifiers.Extra = map[string]string{"invitor": string(m.InvitorUin)}
	}
	return ev
}

var (
	alreadyHandledHints = []string{"flag_has_been_checked", "已被处理", "已处理", "already"}
	invalidFlagHints    = []string{"flag_not_found", "flag不存在", "invalid flag", "flag invalid", "不存在", "无效", "not found"}
)

// classify maps a failed action response onto a platform error code.
func classify(resp actionResponse) platform.ErrorCode {
	text := strings.ToLower(resp.text())
	switch {
	case containsAny(text, alreadyHandledHints):
		return platform.ErrCodeAlreadyHandled
	case containsAny(text, invalidFlagHints):
		return platform.ErrCodeInvalidIdentifier
	case resp.RetCode == 1401 || resp.RetCode == 1403:
		return platform.ErrCodeAuthentication
	case resp.RetCode == 1404:
		return platform.ErrCodeUnavailable
	default:
		return platform.ErrCodeInternal
	}
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}
