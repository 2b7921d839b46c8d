package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chzyer/readline"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/suPer8Hu/ola-suite/internal/chat"
	"github.com/suPer8Hu/ola-suite/internal/chatclient"
	"github.com/suPer8Hu/ola-suite/internal/chatclient/chattest"
	"github.com/suPer8Hu/ola-suite/internal/config"
	"github.com/suPer8Hu/ola-suite/internal/store/filestore"
	"github.com/suPer8Hu/ola-suite/internal/store/memstore"
	"github.com/suPer8Hu/ola-suite/internal/store/sqlstore"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OLA_CONFIG_FILE", "")
	t.Setenv("OLA_SESSION_STORE", "file")
	t.Setenv("OLA_SESSION_FILE", filepath.Join(t.TempDir(), "session.json"))
	t.Setenv("OLA_AUTH_SECRET", "")
	t.Setenv("OLA_ENC_KEY", "")
	t.Setenv("OLA_ENC_PAYLOAD", "")
	t.Setenv("LOG_LEVEL", "error")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	noDB := func() (*gorm.DB, error) {
		t.Fatalf("database should not be opened")
		return nil, nil
	}

	s, closeFn, err := openStore(ctx, config.Config{SessionStore: "memory"}, noDB)
	require.NoError(t, err)
	assert.IsType(t, &memstore.Store{}, s)
	assert.Nil(t, closeFn)

	s, _, err = openStore(ctx, config.Config{SessionStore: "file", SessionFile: filepath.Join(t.TempDir(), "s.json")}, noDB)
	require.NoError(t, err)
	assert.IsType(t, &filestore.Store{}, s)

	sqlDB := func() (*gorm.DB, error) {
		return gorm.Open(gormsqlite.Open("file:olachat_store?mode=memory&cache=shared"), &gorm.Config{})
	}
	s, _, err = openStore(ctx, config.Config{SessionStore: "sql"}, sqlDB)
	require.NoError(t, err)
	assert.IsType(t, &sqlstore.Store{}, s)
	require.NoError(t, s.Set(ctx, "k", "v"))

	_, _, err = openStore(ctx, config.Config{SessionStore: "etcd"}, noDB)
	assert.Error(t, err)
}

func TestSessionCommands_PersistAcrossRuns(t *testing.T) {
	isolateEnv(t)
	srv := chattest.New(t, chattest.Options{})

	out, err := execute(t, "session", "show", "--base-url", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "(none)\n", out)

	out, err = execute(t, "session", "new", "--base-url", srv.URL)
	require.NoError(t, err)
	sid := strings.TrimSpace(out)
	assert.True(t, srv.HasSession(sid))

	out, err = execute(t, "session", "show", "--base-url", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, sid+"\n", out)

	out, err = execute(t, "send", "--base-url", srv.URL, "hello", "there")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello there\n", out)
	assert.Equal(t, 1, srv.CreateCalls(), "send reuses the persisted session")

	out, err = execute(t, "history", "--base-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "[user] hello there")
	assert.Contains(t, out, "[assistant] echo: hello there")

	out, err = execute(t, "session", "delete", "--base-url", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "deleted\n", out)
	assert.False(t, srv.HasSession(sid))

	out, err = execute(t, "session", "show", "--base-url", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "(none)\n", out)
}

func TestSendCommand_Stream(t *testing.T) {
	isolateEnv(t)
	srv := chattest.New(t, chattest.Options{
		StreamChunks: []string{
			`{"step":"dart_rcept_no_parser_node","full_state":{"rcept_no":"20240101000001"}}`,
			`{"type":"final_answer","final_answer":"Revenue grew 4%."}`,
		},
	})

	out, err := execute(t, "send", "--stream", "--store", "memory", "--base-url", srv.URL, "how", "did", "they", "do")
	require.NoError(t, err)
	assert.Contains(t, out, "Revenue grew 4%.")
	assert.Contains(t, out, "rcpNo=20240101000001")
	assert.Equal(t, 1, srv.StreamCalls())
}

func TestSendCommand_NoMessage(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, "send")
	assert.Error(t, err)
}

func TestReportSubmit_HTTP(t *testing.T) {
	isolateEnv(t)
	srv := chattest.New(t, chattest.Options{})

	args := []string{"report", "submit", "--base-url", srv.URL, "--via", "http",
		"--company", "Samsung Electronics", "--period", "2024Q3", "--section", "financials", "--section", "risks",
		"--idempotency-key", "cli-1"}

	out, err := execute(t, args...)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "submitted: report rpt-"))

	again, err := execute(t, args...)
	require.NoError(t, err)
	assert.Equal(t, out, again)
	assert.Equal(t, 2, srv.GenerateCalls())
}

func TestReportFlags_Request(t *testing.T) {
	f := &reportFlags{mode: "manual", sections: []string{"overview"}}
	f.draft.Period = "2024"
	_, err := f.request()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1/4 (company)")

	f.draft.Company = "LG Chem"
	req, err := f.request()
	require.NoError(t, err)
	assert.Equal(t, "LG Chem", req.Company)
	assert.Equal(t, []string{"overview"}, req.Sections)

	f = &reportFlags{mode: "auto"}
	f.draft.Company = "LG Chem"
	f.draft.Period = "2024"
	_, err = f.request()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 3/4 (options)")
}

func TestRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := &renderer{w: &buf}

	r.update(chat.Message{Progress: "Reading filings"})
	r.update(chat.Message{Content: "Hel"})
	r.update(chat.Message{Content: "Hello"})
	r.update(chat.Message{Content: "Final."})
	r.finish(chat.Message{
		Content: "Final.",
		Status:  chat.StatusDone,
		Disclosures: []chatclient.Disclosure{
			{ReceiptNo: "20240101000001", ReportName: "Quarterly report", CorpName: "ACME"},
		},
	})

	want := "... Reading filings\nHello\nFinal.\n  - ACME Quarterly report: https://dart.fss.or.kr/dsaf001/main.do?rcpNo=20240101000001\n"
	assert.Equal(t, want, buf.String())
}

func TestRenderer_Aborted(t *testing.T) {
	var buf bytes.Buffer
	r := &renderer{w: &buf}
	r.update(chat.Message{Content: "partial"})
	r.finish(chat.Message{Content: "partial", Status: chat.StatusAborted})
	assert.Equal(t, "partial\n[stopped]\n", buf.String())
}

func TestIsReadTermination(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "eof", err: io.EOF, want: true},
		{name: "interrupt", err: readline.ErrInterrupt, want: true},
		{name: "nil", err: nil, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isReadTermination(tc.err); got != tc.want {
				t.Fatalf("isReadTermination(%v)=%v want=%v", tc.err, got, tc.want)
			}
		})
	}
}

func TestLimitArg(t *testing.T) {
	assert.Equal(t, 20, limitArg([]string{"/history"}, 20))
	assert.Equal(t, 5, limitArg([]string{"/history", "5"}, 20))
	assert.Equal(t, 20, limitArg([]string{"/history", "x"}, 20))
}
