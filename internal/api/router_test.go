package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/linguo5/AingDesk/internal/api"
	"github.com/linguo5/AingDesk/internal/api/handlers"
	"github.com/linguo5/AingDesk/internal/chat"
	"github.com/linguo5/AingDesk/internal/config"
	"github.com/linguo5/AingDesk/internal/i18n"
	"github.com/linguo5/AingDesk/internal/manager"
	"github.com/linguo5/AingDesk/internal/objstore"
	"github.com/linguo5/AingDesk/internal/rag"
	"github.com/linguo5/AingDesk/internal/share"
	"github.com/linguo5/AingDesk/internal/supplier"
	"github.com/linguo5/AingDesk/internal/vectorindex"
	"github.com/linguo5/AingDesk/internal/websearch"
	"github.com/linguo5/AingDesk/pkg/models"
)

const testModel = "test-model"

// newFakeRuntimeServer answers the runtime chat protocol with a fixed
// streamed reply.
func newFakeRuntimeServer(t *testing.T, reply []string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"models": []any{}})
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, chunk := range reply {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", chunk)
			flusher.Flush()
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","eval_count":2,"prompt_eval_count":1}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, runtimeURL string) *httptest.Server {
	t.Helper()
	obj, err := objstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Load()
	cfg.DataRoot = obj.Root()
	cfg.Runtime.Endpoint = runtimeURL

	msgs := i18n.New(obj)
	reg := supplier.NewRegistry(obj)
	if err := reg.EnsureLocal(runtimeURL); err != nil {
		t.Fatal(err)
	}
	if err := reg.AddModel(models.LocalSupplierName, models.Model{Name: testModel}); err != nil {
		t.Fatal(err)
	}
	vec := vectorindex.NewStore(obj)
	ragSvc := rag.NewService(obj, reg, vec, cfg.RAG, time.Minute)
	chats := chat.NewStore(obj)
	engine := chat.NewEngine(chats, reg, ragSvc, websearch.NewRegistry(), msgs, cfg.Chat)
	rt := manager.NewRuntime(runtimeURL, t.TempDir())
	mgr := manager.NewManager(rt, reg, nil)
	shares := share.NewService(obj, chats)

	h := handlers.New(cfg, engine, reg, ragSvc, mgr, shares, msgs)
	srv := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) (*http.Response, []byte) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func decodeEnvelope(t *testing.T, data []byte) handlers.Envelope {
	t.Helper()
	var env handlers.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("invalid envelope %q: %v", data, err)
	}
	return env
}

func TestGetVersionEnvelope(t *testing.T) {
	srv := newTestServer(t, newFakeRuntimeServer(t, nil).URL)

	resp, err := http.Get(srv.URL + "/index/get_version")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	env := decodeEnvelope(t, data)
	if env.Code != 200 || env.ErrorMsg != "" {
		t.Fatalf("envelope = %+v", env)
	}
	msg, ok := env.Message.(map[string]any)
	if !ok || msg["version"] == "" {
		t.Fatalf("message = %+v", env.Message)
	}
}

func TestErrorEnvelopeCarriesLocalizedMessage(t *testing.T) {
	srv := newTestServer(t, newFakeRuntimeServer(t, nil).URL)

	resp, data := postJSON(t, srv.URL+"/chat/get_chat_info", map[string]string{"context_id": "missing"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, data)
	}
	env := decodeEnvelope(t, data)
	if env.Code != http.StatusNotFound || env.ErrorMsg == "" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestChatStreamsPlainTextAndPersists(t *testing.T) {
	runtime := newFakeRuntimeServer(t, []string{"he", "llo"})
	srv := newTestServer(t, runtime.URL)

	resp, body := postJSON(t, srv.URL+"/chat/chat", models.ChatRequest{
		Model:        testModel,
		SupplierName: models.LocalSupplierName,
		UserContent:  "hi there",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("content type = %q", ct)
	}
	if string(body) != "hello" {
		t.Fatalf("stream = %q", body)
	}

	_, data := postJSON(t, srv.URL+"/chat/get_chat_list", map[string]any{})
	env := decodeEnvelope(t, data)
	convs, ok := env.Message.([]any)
	if !ok || len(convs) != 1 {
		t.Fatalf("chat list = %+v", env.Message)
	}
	conv := convs[0].(map[string]any)
	if conv["title"] != "hi there" {
		t.Fatalf("conversation = %+v", conv)
	}

	_, data = postJSON(t, srv.URL+"/chat/get_chat_info", map[string]any{"context_id": conv["context_id"]})
	env = decodeEnvelope(t, data)
	info := env.Message.(map[string]any)
	history := info["history"].([]any)
	if len(history) != 2 {
		t.Fatalf("history length = %d", len(history))
	}
	assistant := history[1].(map[string]any)
	if assistant["content"] != "hello" {
		t.Fatalf("assistant = %+v", assistant)
	}
}

func TestChatUnknownModelIs404BeforeStreaming(t *testing.T) {
	srv := newTestServer(t, newFakeRuntimeServer(t, nil).URL)

	resp, data := postJSON(t, srv.URL+"/chat/chat", models.ChatRequest{
		Model:        "no-such-model",
		SupplierName: models.LocalSupplierName,
		UserContent:  "hi",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, data)
	}
	env := decodeEnvelope(t, data)
	if env.Code != http.StatusNotFound {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestStopGenerateIdleIsSuccess(t *testing.T) {
	srv := newTestServer(t, newFakeRuntimeServer(t, nil).URL)

	resp, data := postJSON(t, srv.URL+"/chat/stop_generate", map[string]string{"context_id": "idle"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if env := decodeEnvelope(t, data); env.Code != 200 {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestSupplierLifecycleOverTheWire(t *testing.T) {
	srv := newTestServer(t, newFakeRuntimeServer(t, nil).URL)

	_, data := postJSON(t, srv.URL+"/model/add_supplier", map[string]any{
		"supplierTitle": "My endpoint",
		"baseUrl":       "https://api.example.com/v1",
		"apiKey":        "sk-test",
	})
	env := decodeEnvelope(t, data)
	added := env.Message.(map[string]any)
	name, _ := added["supplierName"].(string)
	if len(name) != 10 {
		t.Fatalf("generated supplier name = %q", name)
	}

	_, data = postJSON(t, srv.URL+"/model/get_supplier_list", map[string]any{})
	env = decodeEnvelope(t, data)
	list := env.Message.([]any)
	if len(list) != 2 {
		t.Fatalf("supplier list = %+v", list)
	}
	first := list[0].(map[string]any)
	if first["supplierName"] != models.LocalSupplierName {
		t.Fatalf("local supplier must sort first, got %+v", first)
	}

	resp, data := postJSON(t, srv.URL+"/model/remove_supplier", map[string]string{"supplierName": models.LocalSupplierName})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("removing local must conflict, got %d: %s", resp.StatusCode, data)
	}
}

func TestRemoveDocRejectsUnknownBase(t *testing.T) {
	srv := newTestServer(t, newFakeRuntimeServer(t, nil).URL)

	resp, _ := http.Get(srv.URL + "/rag/remove_doc?ragName=missing&doc_id=x")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}
