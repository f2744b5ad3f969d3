package resolver

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/joingate/internal/requests"
)

// CandidateKind names one identifier encoding of a join request.
type CandidateKind string

const (
	// KindToken is the opaque provider-issued handle.
	KindToken CandidateKind = "token"
	// KindRequester is the applicant's id on its own.
	KindRequester CandidateKind = "requester"
	// KindComposite joins the group id and the requester id.
	KindComposite CandidateKind = "composite"
	// KindSequence is the event's sequence or correlation number.
	KindSequence CandidateKind = "sequence"
)

// DefaultOrder is the priority in which encodings are tried.
var DefaultOrder = []CandidateKind{KindToken, KindRequester, KindComposite, KindSequence}

// DefaultCompositeSeparator joins group and requester ids in composite candidates.
const DefaultCompositeSeparator = "_"

// Candidate is one identifier encoding handed to the decide operation.
type Candidate struct {
	Kind  CandidateKind `json:"kind"`
	Value string        `json:"value"`
}

func (c Candidate) String() string {
	return string(c.Kind) + "=" + c.Value
}

// ParseKind validates a configured candidate kind. Extra token names are
// accepted as "extra:<name>".
func ParseKind(raw string) (CandidateKind, error) {
	kind := CandidateKind(strings.ToLower(strings.TrimSpace(raw)))
	switch kind {
	case KindToken, KindRequester, KindComposite, KindSequence:
		return kind, nil
	}
	if name, ok := strings.CutPrefix(string(kind), "extra:"); ok && name != "" {
		return kind, nil
	}
	return "", fmt.Errorf("unknown candidate kind %q", raw)
}

// Extractor builds the ordered candidate list for a request.
type Extractor struct {
	Order     []CandidateKind
	Separator string
}

// Candidates returns the encodings of req in priority order. Kinds without a
// value are skipped, as are values already produced by an earlier kind.
func (e Extractor) Candidates(req requests.JoinRequest) []Candidate {
	order := e.Order
	if len(order) == 0 {
		order = DefaultOrder
	}
	sep := e.Separator
	if sep == "" {
		sep = DefaultCompositeSeparator
	}

	seen := make(map[string]bool, len(order))
	out := make([]Candidate, 0, len(order))
	for _, kind := range order {
		value := strings.TrimSpace(valueFor(kind, req, sep))
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		out = append(out, Candidate{Kind: kind, Value: value})
	}
	return out
}

func valueFor(kind CandidateKind, req requests.JoinRequest, sep string) string {
	switch kind {
	case KindToken:
		return req.Identifiers.Token
	case KindRequester:
		return req.RequesterID
	case KindComposite:
		if req.GroupID == "" || req.RequesterID == "" {
			return ""
		}
		return req.GroupID + sep + req.RequesterID
	case KindSequence:
		return req.Identifiers.Sequence
	}
	if name, ok := strings.CutPrefix(string(kind), "extra:"); ok {
		return req.Identifiers.Extra[name]
	}
	return ""
}
