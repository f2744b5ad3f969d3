package review

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Command
	}{
		{"slash approve", "/approve 100:42", Command{Verb: VerbApprove, Ref: "100:42"}},
		{"no slash", "approve 42", Command{Verb: VerbApprove, Ref: "42"}},
		{"upper case", "/APPROVE 42", Command{Verb: VerbApprove, Ref: "42"}},
		{"reject with reason", "/reject 100:42 looks like a bot", Command{Verb: VerbReject, Ref: "100:42", Reason: "looks like a bot"}},
		{"reject without reason", "/reject 100:42", Command{Verb: VerbReject, Ref: "100:42"}},
		{"chinese approve", "/通过 100:42", Command{Verb: VerbApprove, Ref: "100:42"}},
		{"chinese reject", "拒绝 100:42 广告", Command{Verb: VerbReject, Ref: "100:42", Reason: "广告"}},
		{"full width", "／ａｐｐｒｏｖｅ　１００:４２", Command{Verb: VerbApprove, Ref: "100:42"}},
		{"info", "/info 100:42", Command{Verb: VerbInfo, Ref: "100:42"}},
		{"list", "/list", Command{Verb: VerbList}},
		{"list ignores args", "列表 extra", Command{Verb: VerbList}},
		{"help", "/help", Command{Verb: VerbHelp}},
		{"extra whitespace", "  /approve   42  ", Command{Verb: VerbApprove, Ref: "42"}},
		{"quoted reason", `/reject R1 "not a fit"`, Command{Verb: VerbReject, Ref: "R1", Reason: "not a fit"}},
		{"reason spacing kept", "/reject 100:42 spam  bot\tring", Command{Verb: VerbReject, Ref: "100:42", Reason: "spam  bot\tring"}},
		{"full width reason kept", "／拒绝　１００:４２　广告，请勿再申请！", Command{Verb: VerbReject, Ref: "100:42", Reason: "广告，请勿再申请！"}},
		{"corner quoted reason", "拒绝 100:42 「重复申请」", Command{Verb: VerbReject, Ref: "100:42", Reason: "重复申请"}},
		{"lone quote kept", `/reject 100:42 "unfinished`, Command{Verb: VerbReject, Ref: "100:42", Reason: `"unfinished`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.text)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.text, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestParse_NotCommand(t *testing.T) {
	for _, text := range []string{"", "   ", "hello everyone", "/kick 42", "approved!"} {
		if _, err := Parse(text); !errors.Is(err, ErrNotCommand) {
			t.Errorf("Parse(%q) error = %v, want ErrNotCommand", text, err)
		}
	}
}

func TestParse_Usage(t *testing.T) {
	for _, text := range []string{"/approve", "/reject", "/info", "通过"} {
		_, err := Parse(text)
		var usage *UsageError
		if !errors.As(err, &usage) {
			t.Fatalf("Parse(%q) error = %v, want UsageError", text, err)
		}
		if Usage(usage.Verb) == "" {
			t.Errorf("missing usage text for %s", usage.Verb)
		}
	}
}

func TestReviewerSet(t *testing.T) {
	empty := NewReviewerSet(nil)
	if empty.Allowed("anyone") || empty.Allowed("") {
		t.Error("empty set should allow nobody")
	}

	s := NewReviewerSet([]string{"1", " 2 ", ""})
	if !s.Allowed("1") || !s.Allowed("2") || s.Allowed("3") {
		t.Errorf("unexpected membership: %v", s.List())
	}

	s.Replace([]string{"3"})
	if s.Allowed("1") || !s.Allowed("3") {
		t.Errorf("replace not applied: %v", s.List())
	}
	if got := s.List(); len(got) != 1 || got[0] != "3" {
		t.Errorf("List = %v", got)
	}

	var nilSet *ReviewerSet
	if nilSet.Allowed("x") || nilSet.List() != nil {
		t.Error("nil set should allow nobody and list nothing")
	}
}
