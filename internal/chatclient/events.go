package chatclient

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Kind tags the shape an Event was recognised as.
type Kind string

const (
	KindStep        Kind = "step"
	KindFinalAnswer Kind = "final_answer"
	KindContent     Kind = "content"
	KindError       Kind = "error"
	KindParseError  Kind = "parse_error"
	KindUnknown     Kind = "unknown"
)

// ContentMode says how a KindContent payload combines with what was received so far.
type ContentMode int

const (
	ModeAppend ContentMode = iota
	// ModeReplace is used by the "content" shape, which carries the full text so far.
	ModeReplace
)

// Pipeline stages the backend is known to emit.
const (
	StepDartReceiptParser   = "dart_rcept_no_parser_node"
	StepUnsupportedQuestion = "unsupported_question"
	StepFormatAnswer        = "format_answer"
)

const dartViewerURL = "https://dart.fss.or.kr/dsaf001/main.do?rcpNo="

// Event is one object pulled off the stream. Upstream shapes vary, so the
// decoded object is always kept in Raw/Data and Kind only names the shape.
type Event struct {
	Kind Kind
	Type string // "type" field, when present

	Raw  json.RawMessage
	Data map[string]any

	Step      string
	FullState json.RawMessage

	FinalAnswer string
	Content     string
	Mode        ContentMode

	// Message is the server message for KindError, or the decode error for KindParseError.
	Message string
	// Fragment is the offending text of a KindParseError.
	Fragment string
}

// Disclosure is a DART filing referenced by a pipeline step.
type Disclosure struct {
	ReceiptNo  string `json:"rcept_no"`
	ReportName string `json:"report_nm,omitempty"`
	CorpName   string `json:"corp_name,omitempty"`
}

func (d Disclosure) URL() string { return dartViewerURL + d.ReceiptNo }

func decodeEvent(raw []byte) Event {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return Event{Kind: KindParseError, Message: err.Error(), Fragment: string(raw)}
	}
	return classify(raw, data)
}

func classify(raw []byte, data map[string]any) Event {
	ev := Event{Kind: KindUnknown, Raw: json.RawMessage(raw), Data: data}
	r := gjson.ParseBytes(raw)
	ev.Type = r.Get("type").String()

	switch {
	case ev.Type == "final_answer":
		ev.Kind = KindFinalAnswer
		ev.FinalAnswer = r.Get("final_answer").String()
	case r.Get("step").Exists():
		ev.Kind = KindStep
		ev.Step = r.Get("step").String()
		if fs := r.Get("full_state"); fs.Exists() {
			ev.FullState = json.RawMessage(fs.Raw)
		}
	case ev.Type == "error":
		ev.Kind = KindError
		ev.Message = firstNonEmpty(r.Get("message").String(), r.Get("error").String(), defaultStreamMsg)
	default:
		if v := r.Get("content"); v.Type == gjson.String {
			ev.Kind, ev.Mode, ev.Content = KindContent, ModeReplace, v.String()
			break
		}
		for _, key := range []string{"delta", "text"} {
			if v := r.Get(key); v.Type == gjson.String {
				ev.Kind, ev.Mode, ev.Content = KindContent, ModeAppend, v.String()
				break
			}
		}
	}
	return ev
}

// Lookup reads a gjson path out of the raw object.
func (e Event) Lookup(path string) gjson.Result {
	return gjson.GetBytes(e.Raw, path)
}

// Disclosures collects DART receipt references carried in full_state.
// Both a list of objects ("disclosures") and bare receipt numbers
// ("rcept_no" / "dart_rcept_no", string or array) are accepted.
func (e Event) Disclosures() []Disclosure {
	if len(e.FullState) == 0 {
		return nil
	}
	fs := gjson.ParseBytes(e.FullState)
	var out []Disclosure
	seen := make(map[string]bool)
	add := func(d Disclosure) {
		if d.ReceiptNo == "" || seen[d.ReceiptNo] {
			return
		}
		seen[d.ReceiptNo] = true
		out = append(out, d)
	}

	fs.Get("disclosures").ForEach(func(_, v gjson.Result) bool {
		add(Disclosure{
			ReceiptNo:  v.Get("rcept_no").String(),
			ReportName: v.Get("report_nm").String(),
			CorpName:   v.Get("corp_name").String(),
		})
		return true
	})
	for _, key := range []string{"rcept_no", "dart_rcept_no"} {
		v := fs.Get(key)
		if v.IsArray() {
			for _, item := range v.Array() {
				add(Disclosure{ReceiptNo: item.String()})
			}
		} else if v.Exists() {
			add(Disclosure{ReceiptNo: v.String()})
		}
	}
	return out
}

var stepLabels = map[string]string{
	StepDartReceiptParser:   "Searching DART disclosures",
	StepUnsupportedQuestion: "This question is not supported yet",
	StepFormatAnswer:        "Writing the answer",
}

// StepLabel maps a pipeline stage to progress text. Unknown stages are returned as-is.
func StepLabel(step string) string {
	if l, ok := stepLabels[step]; ok {
		return l
	}
	return step
}
