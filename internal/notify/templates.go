package notify

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/haasonsaas/joingate/internal/requests"
)

// Kind names a message template.
type Kind string

const (
	KindNewRequest      Kind = "new_request"
	KindApproved        Kind = "approved"
	KindRejected        Kind = "rejected"
	KindAutoApproved    Kind = "auto_approved"
	KindWelcome         Kind = "welcome"
	KindFailure         Kind = "failure"
	KindInfo            Kind = "info"
	KindList            Kind = "list"
	KindHelp            Kind = "help"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindAlreadyResolved Kind = "already_resolved"
	KindUsage           Kind = "usage"
)

// Kinds lists every template kind.
var Kinds = []Kind{
	KindNewRequest, KindApproved, KindRejected, KindAutoApproved, KindWelcome,
	KindFailure, KindInfo, KindList, KindHelp, KindForbidden, KindNotFound,
	KindAlreadyResolved, KindUsage,
}

// View is the data passed to every template.
type View struct {
	Request          requests.JoinRequest
	Pending          []requests.JoinRequest
	Ref              string
	Error            string
	Usage            string
	AutoApproveAfter time.Duration
}

// DefaultTemplates returns the built-in message templates.
func DefaultTemplates() map[Kind]string {
	return map[Kind]string{
		KindNewRequest: `🔔 新的入群申请
群号: {{.Request.GroupID}}
用户: {{.Request.Label}} ({{.Request.RequesterID}})
{{- if .Request.Comment}}
申请理由: {{.Request.Comment}}{{end}}
申请ID: {{.Request.ID}}
时间: {{clock .Request.AdmittedAt}}
{{- if .AutoApproveAfter}}
{{.AutoApproveAfter}} 内无人处理将自动通过{{end}}

✅ 通过: /approve {{.Request.ID}}
❌ 拒绝: /reject {{.Request.ID}} [原因]
📋 查看: /info {{.Request.ID}}`,

		KindApproved: `✅ 入群申请已通过
群号: {{.Request.GroupID}}
用户: {{.Request.Label}} ({{.Request.RequesterID}})
审核人: {{.Request.ResolvedBy}}`,

		KindRejected: `❌ 入群申请已拒绝
群号: {{.Request.GroupID}}
用户: {{.Request.Label}} ({{.Request.RequesterID}})
审核人: {{.Request.ResolvedBy}}
{{- if .Request.RejectReason}}
原因: {{.Request.RejectReason}}{{end}}`,

		KindAutoApproved: `⏰ 申请 {{.Request.ID}} 超时未处理，已自动通过
用户: {{.Request.Label}} ({{.Request.RequesterID}})`,

		KindWelcome: `欢迎 {{.Request.Label}} 加入群聊！`,

		KindFailure: `⚠️ 处理申请 {{.Request.ID}} 失败，申请仍待处理
{{.Error}}`,

		KindInfo: `📋 申请信息 {{.Request.ID}}
群号: {{.Request.GroupID}}
用户: {{.Request.Label}} ({{.Request.RequesterID}})
申请理由: {{or .Request.Comment "无"}}
申请时间: {{clock .Request.AdmittedAt}}
状态: {{.Request.Status}}`,

		KindList: `{{if not .Pending}}📝 当前没有待处理的申请{{else}}📝 待处理申请 ({{len .Pending}}):
{{range .Pending}}
{{.ID}} {{.Label}} {{clock .AdmittedAt}}{{end}}{{end}}`,

		KindHelp: `📖 入群申请审核
✅ /approve <申请ID> 通过申请
❌ /reject <申请ID> [原因] 拒绝申请
📋 /info <申请ID> 查看申请详情
📝 /list 查看待处理申请
❓ /help 显示此帮助
也可使用 /通过 /拒绝 /查看 /列表 /帮助`,

		KindForbidden: `⛔ 你没有审核权限`,

		KindNotFound: `❌ 申请 {{.Ref}} 不存在`,

		KindAlreadyResolved: `ℹ️ 申请 {{.Request.ID}} 已处理 ({{.Request.Status}}{{if .Request.ResolvedBy}} by {{.Request.ResolvedBy}}{{end}})`,

		KindUsage: `用法: {{.Usage}}`,
	}
}

var funcs = template.FuncMap{
	"clock": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Local().Format("2006-01-02 15:04:05")
	},
}

// ParseTemplates parses the default templates with overrides applied.
// Override keys must name a known Kind.
func ParseTemplates(overrides map[string]string) (map[Kind]*template.Template, error) {
	sources := DefaultTemplates()
	for name, text := range overrides {
		kind := Kind(name)
		if _, ok := sources[kind]; !ok {
			return nil, fmt.Errorf("unknown template %q", name)
		}
		sources[kind] = text
	}

	parsed := make(map[Kind]*template.Template, len(sources))
	for kind, text := range sources {
		t, err := template.New(string(kind)).Funcs(funcs).Option("missingkey=zero").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", kind, err)
		}
		parsed[kind] = t
	}
	return parsed, nil
}

func render(t *template.Template, view View) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, view); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}
