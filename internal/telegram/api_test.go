package telegram

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const testToken = "123:test"

type apiCall struct {
	Method string
	Form   url.Values
}

// fakeAPI stands in for the Bot API. Scripted bodies are served once, front
// to back, before falling back to a successful reply.
type fakeAPI struct {
	srv *httptest.Server

	mu     sync.Mutex
	calls  []apiCall
	script map[string][]string
	files  map[string]string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{script: map[string][]string{}, files: map[string]string{}}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/file/") {
		f.mu.Lock()
		body, ok := f.files[strings.TrimPrefix(r.URL.Path, "/file/bot"+testToken+"/")]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
		return
	}

	_ = r.ParseForm()
	method := path.Base(r.URL.Path)
	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Method: method, Form: r.Form})
	var body string
	if s := f.script[method]; len(s) > 0 {
		body, f.script[method] = s[0], s[1:]
	}
	f.mu.Unlock()

	if body == "" {
		body = okReply(method)
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func okReply(method string) string {
	switch method {
	case "getMe":
		return `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"sorter","username":"sorter_bot"}}`
	case "getFile":
		return `{"ok":true,"result":{"file_id":"f1","file_unique_id":"u1","file_size":5,"file_path":"videos/file_1.mp4"}}`
	}
	return `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":-100,"type":"channel"}}}`
}

func (f *fakeAPI) bot(t *testing.T) *tgbotapi.BotAPI {
	t.Helper()
	bot, err := tgbotapi.NewBotAPIWithClient(testToken, f.srv.URL+"/bot%s/%s", f.srv.Client())
	if err != nil {
		t.Fatalf("NewBotAPIWithClient: %v", err)
	}
	return bot
}

func (f *fakeAPI) callsTo(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}
