package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/joingate/internal/observability"
	"github.com/haasonsaas/joingate/internal/requests"
)

type sent struct {
	group string
	text  string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeMessenger) SendGroupMessage(ctx context.Context, groupID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{group: groupID, text: text})
	return nil
}

func (f *fakeMessenger) messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func newTestNotifier(t *testing.T, m Messenger, config Config, opts ...Option) *Notifier {
	t.Helper()
	if config.ReviewGroup == "" {
		config.ReviewGroup = "review"
	}
	n, err := New(m, config, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n
}

func sampleRequest(status requests.Status) requests.JoinRequest {
	return requests.JoinRequest{
		ID:          "100:42",
		GroupID:     "100",
		RequesterID: "42",
		DisplayName: "Alice",
		Comment:     "from the forum",
		Status:      status,
		AdmittedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestAnnounceNewRequest(t *testing.T) {
	m := &fakeMessenger{}
	n := newTestNotifier(t, m, Config{AutoApproveAfter: time.Hour})

	if err := n.AnnounceNewRequest(context.Background(), sampleRequest(requests.StatusPending)); err != nil {
		t.Fatalf("announce: %v", err)
	}
	msgs := m.messages()
	if len(msgs) != 1 || msgs[0].group != "review" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	for _, want := range []string{"100:42", "Alice", "from the forum", "/approve 100:42", "1h0m0s"} {
		if !strings.Contains(msgs[0].text, want) {
			t.Errorf("announcement missing %q:\n%s", want, msgs[0].text)
		}
	}
}

func TestAnnounceOutcome_ApprovalWelcomes(t *testing.T) {
	m := &fakeMessenger{}
	n := newTestNotifier(t, m, Config{})

	req := sampleRequest(requests.StatusApproved)
	req.ResolvedBy = "7"
	if err := n.AnnounceOutcome(context.Background(), req); err != nil {
		t.Fatalf("announce: %v", err)
	}
	msgs := m.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected outcome + welcome, got %+v", msgs)
	}
	if msgs[0].group != "review" || !strings.Contains(msgs[0].text, "已通过") {
		t.Errorf("unexpected outcome message %+v", msgs[0])
	}
	if msgs[1].group != "100" || msgs[1].text != "欢迎 Alice 加入群聊！" {
		t.Errorf("unexpected welcome %+v", msgs[1])
	}
}

func TestAnnounceOutcome_AutoApprovedWelcomes(t *testing.T) {
	m := &fakeMessenger{}
	n := newTestNotifier(t, m, Config{})

	req := sampleRequest(requests.StatusAutoApproved)
	req.ResolvedBy = requests.SystemActor
	if err := n.AnnounceOutcome(context.Background(), req); err != nil {
		t.Fatalf("announce: %v", err)
	}
	if got := len(m.messages()); got != 2 {
		t.Fatalf("expected 2 messages, got %d", got)
	}
}

func TestAnnounceOutcome_RejectionNoWelcome(t *testing.T) {
	m := &fakeMessenger{}
	n := newTestNotifier(t, m, Config{})

	req := sampleRequest(requests.StatusRejected)
	req.RejectReason = "spam"
	if err := n.AnnounceOutcome(context.Background(), req); err != nil {
		t.Fatalf("announce: %v", err)
	}
	msgs := m.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].text, "spam") {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestAnnounceOutcome_Pending(t *testing.T) {
	n := newTestNotifier(t, &fakeMessenger{}, Config{})
	if err := n.AnnounceOutcome(context.Background(), sampleRequest(requests.StatusPending)); err == nil {
		t.Fatal("expected error for pending request")
	}
}

func TestDisableWelcome(t *testing.T) {
	m := &fakeMessenger{}
	n := newTestNotifier(t, m, Config{DisableWelcome: true})
	_ = n.AnnounceOutcome(context.Background(), sampleRequest(requests.StatusApproved))
	if got := len(m.messages()); got != 1 {
		t.Fatalf("expected no welcome, got %d messages", got)
	}
}

func TestAnnounceError(t *testing.T) {
	m := &fakeMessenger{}
	n := newTestNotifier(t, m, Config{})

	_ = n.AnnounceError(context.Background(), sampleRequest(requests.StatusPending), errors.New("all candidates failed"))
	msgs := m.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].text, "all candidates failed") {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestReply_Kinds(t *testing.T) {
	m := &fakeMessenger{}
	n := newTestNotifier(t, m, Config{})
	ctx := context.Background()

	pending := []requests.JoinRequest{sampleRequest(requests.StatusPending)}
	replies := []struct {
		reply Reply
		want  string
	}{
		{Reply{Kind: KindForbidden}, "没有审核权限"},
		{Reply{Kind: KindNotFound, Ref: "nope"}, "nope"},
		{Reply{Kind: KindAlreadyResolved, Request: sampleRequest(requests.StatusAutoApproved)}, "auto_approved"},
		{Reply{Kind: KindUsage, Usage: "/approve <id>"}, "/approve <id>"},
		{Reply{Kind: KindList, Pending: pending}, "100:42 Alice"},
		{Reply{Kind: KindList}, "没有待处理"},
		{Reply{Kind: KindInfo, Request: sampleRequest(requests.StatusPending)}, "from the forum"},
		{Reply{Kind: KindHelp}, "/reject"},
	}
	for _, r := range replies {
		if err := n.Reply(ctx, r.reply); err != nil {
			t.Fatalf("reply %s: %v", r.reply.Kind, err)
		}
	}
	msgs := m.messages()
	if len(msgs) != len(replies) {
		t.Fatalf("expected %d replies, got %d", len(replies), len(msgs))
	}
	for i, r := range replies {
		if !strings.Contains(msgs[i].text, r.want) {
			t.Errorf("%s reply %q missing %q", r.reply.Kind, msgs[i].text, r.want)
		}
	}
}

func TestDeliveryFailureIsCounted(t *testing.T) {
	m := &fakeMessenger{err: errors.New("send failed")}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	n := newTestNotifier(t, m, Config{}, WithMetrics(metrics))

	if err := n.AnnounceNewRequest(context.Background(), sampleRequest(requests.StatusPending)); err == nil {
		t.Fatal("expected delivery error")
	}
	if got := testutil.ToFloat64(metrics.Notifications.WithLabelValues("new_request", "failed")); got != 1 {
		t.Fatalf("failed notifications = %v, want 1", got)
	}
}

func TestTemplateOverrides(t *testing.T) {
	m := &fakeMessenger{}
	n := newTestNotifier(t, m, Config{Templates: map[string]string{
		"welcome": "Welcome, {{.Request.Label}}!",
	}})
	_ = n.AnnounceOutcome(context.Background(), sampleRequest(requests.StatusApproved))
	msgs := m.messages()
	if len(msgs) != 2 || msgs[1].text != "Welcome, Alice!" {
		t.Fatalf("override not applied: %+v", msgs)
	}

	if _, err := New(m, Config{Templates: map[string]string{"bogus": "x"}}); err == nil {
		t.Fatal("expected error for unknown template")
	}
	if _, err := New(m, Config{Templates: map[string]string{"welcome": "{{"}}); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := New(nil, Config{}); err == nil {
		t.Fatal("expected error without messenger")
	}
}

func TestLimiter(t *testing.T) {
	ctx := context.Background()
	unlimited := NewLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if err := unlimited.Wait(ctx); err != nil {
			t.Fatalf("unlimited wait: %v", err)
		}
	}

	slow := NewLimiter(0.001, 1)
	if err := slow.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := slow.Wait(short); err == nil {
		t.Fatal("expected second wait to exceed deadline")
	}

	var nilLimiter *Limiter
	if err := nilLimiter.Wait(ctx); err != nil {
		t.Fatalf("nil limiter: %v", err)
	}
}
