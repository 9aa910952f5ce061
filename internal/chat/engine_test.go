package chat

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linguo5/AingDesk/internal/config"
	"github.com/linguo5/AingDesk/internal/errs"
	"github.com/linguo5/AingDesk/internal/i18n"
	"github.com/linguo5/AingDesk/internal/llm"
	"github.com/linguo5/AingDesk/internal/objstore"
	"github.com/linguo5/AingDesk/internal/rag"
	"github.com/linguo5/AingDesk/internal/supplier"
	"github.com/linguo5/AingDesk/internal/vectorindex"
	"github.com/linguo5/AingDesk/internal/websearch"
	"github.com/linguo5/AingDesk/pkg/models"
)

const testModel = "test-model"

// scriptedStreamer plays back a fixed delta sequence. After the deltas it
// optionally signals emitted and blocks until cancellation, imitating a
// model that keeps generating.
type scriptedStreamer struct {
	deltas   []llm.Delta
	finalErr error
	emitted  chan struct{}
	block    bool
}

func (s *scriptedStreamer) Stream(ctx context.Context, req llm.Request, fn func(llm.Delta) error) (*llm.Result, error) {
	result := &llm.Result{Stat: map[string]any{"model": req.Model}}
	for _, d := range s.deltas {
		select {
		case <-ctx.Done():
			return result, errs.Wrap(errs.Canceled, ctx.Err(), "stream")
		default:
		}
		result.Content += d.Content
		result.Reasoning += d.Reasoning
		if err := fn(d); err != nil {
			return result, err
		}
	}
	if s.emitted != nil {
		close(s.emitted)
	}
	if s.block {
		<-ctx.Done()
		return result, errs.Wrap(errs.Canceled, ctx.Err(), "stream")
	}
	return result, s.finalErr
}

func newTestEngine(t *testing.T, streamer llm.Streamer) *Engine {
	t.Helper()
	obj, err := objstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	reg := supplier.NewRegistry(obj)
	if err := reg.EnsureLocal("http://127.0.0.1:1"); err != nil {
		t.Fatal(err)
	}
	if err := reg.AddModel(models.LocalSupplierName, models.Model{Name: testModel}); err != nil {
		t.Fatal(err)
	}
	ragSvc := rag.NewService(obj, reg, vectorindex.NewStore(obj), config.RAGConfig{}, 0)
	eng := NewEngine(NewStore(obj), reg, ragSvc, websearch.NewRegistry(), i18n.New(obj), config.ChatConfig{
		ContextLength:   8192,
		UpstreamTimeout: time.Minute,
	})
	eng.newStreamer = func(*models.Supplier, time.Duration) llm.Streamer { return streamer }
	return eng
}

func chatRequest(contextID, content string) models.ChatRequest {
	return models.ChatRequest{
		Model:        testModel,
		SupplierName: models.LocalSupplierName,
		ContextID:    contextID,
		UserContent:  content,
	}
}

func TestChatUnknownModelFailsBeforeStreaming(t *testing.T) {
	eng := newTestEngine(t, &scriptedStreamer{})
	rec := httptest.NewRecorder()

	req := chatRequest("", "hi")
	req.Model = "no-such-model"
	err := eng.Chat(context.Background(), rec, req)
	if errs.KindOf(err) != errs.NotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("nothing may be streamed before resolution, got %q", rec.Body.String())
	}
}

func TestChatEmptyContentRejected(t *testing.T) {
	eng := newTestEngine(t, &scriptedStreamer{})
	err := eng.Chat(context.Background(), httptest.NewRecorder(), chatRequest("", "   "))
	if errs.KindOf(err) != errs.InvalidRequest {
		t.Fatalf("expected invalid_request, got %v", err)
	}
}

func TestChatStreamsAndPersistsTurnPair(t *testing.T) {
	eng := newTestEngine(t, &scriptedStreamer{
		deltas: []llm.Delta{{Content: "he"}, {Content: "llo"}},
	})
	rec := httptest.NewRecorder()

	if err := eng.Chat(context.Background(), rec, chatRequest("", "hi there")); err != nil {
		t.Fatal(err)
	}
	if rec.Body.String() != "hello" {
		t.Fatalf("streamed body = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}

	convs, err := eng.Store().List()
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Fatalf("expected one implicit conversation, got %d", len(convs))
	}
	if convs[0].Title != "hi there" {
		t.Fatalf("title = %q", convs[0].Title)
	}
	if got := rec.Header().Get("X-Context-Id"); got != convs[0].ContextID {
		t.Fatalf("X-Context-Id = %q, want %q", got, convs[0].ContextID)
	}

	history, err := eng.Store().History(convs[0].ContextID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("expected a turn pair, got %d entries", len(history))
	}
	if history[0].Role != models.RoleUser || history[0].Content != "hi there" {
		t.Fatalf("user entry = %+v", history[0])
	}
	if history[1].Role != models.RoleAssistant || history[1].Content != "hello" {
		t.Fatalf("assistant entry = %+v", history[1])
	}
	if history[1].Stat["model"] != testModel {
		t.Fatalf("stat = %+v", history[1].Stat)
	}
}

func TestStopGenerateFinalizesInterruptedTurn(t *testing.T) {
	emitted := make(chan struct{})
	eng := newTestEngine(t, &scriptedStreamer{
		deltas:  []llm.Delta{{Content: "he"}},
		emitted: emitted,
		block:   true,
	})

	conv, err := eng.Store().Create("t", testModel, "", models.LocalSupplierName)
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	done := make(chan error, 1)
	go func() {
		done <- eng.Chat(context.Background(), rec, chatRequest(conv.ContextID, "hi"))
	}()

	<-emitted
	eng.StopGenerate(conv.ContextID)

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("chat did not return after stop")
	}

	interrupted := i18n.New(mustObj(t)).Interrupted()
	if got := rec.Body.String(); got != "he"+interrupted {
		t.Fatalf("streamed body = %q", got)
	}
	history, err := eng.Store().History(conv.ContextID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("interrupted turns must still persist, got %d entries", len(history))
	}
	if history[1].Content != "he"+interrupted {
		t.Fatalf("assistant entry = %q", history[1].Content)
	}
}

func TestStopGenerateIdleIsNoop(t *testing.T) {
	eng := newTestEngine(t, &scriptedStreamer{})
	eng.StopGenerate("nothing-running")
}

func TestRegenerateRewritesFromEntry(t *testing.T) {
	eng := newTestEngine(t, &scriptedStreamer{
		deltas: []llm.Delta{{Content: "hey"}},
	})
	conv, err := eng.Store().Create("t", testModel, "", models.LocalSupplierName)
	if err != nil {
		t.Fatal(err)
	}
	user := NewTurnEntry(models.RoleUser, "hi")
	assistant := NewTurnEntry(models.RoleAssistant, "old answer")
	if err := eng.Store().AppendTurns(conv.ContextID, user, assistant); err != nil {
		t.Fatal(err)
	}

	req := chatRequest(conv.ContextID, "hi")
	req.RegenerateID = user.ID
	if err := eng.Chat(context.Background(), httptest.NewRecorder(), req); err != nil {
		t.Fatal(err)
	}

	history, err := eng.Store().History(conv.ContextID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("expected the rewritten pair only, got %d entries", len(history))
	}
	if history[0].Content != "hi" || history[1].Content != "hey" {
		t.Fatalf("history = [%q, %q]", history[0].Content, history[1].Content)
	}
}

func TestRegenerateOnAssistantEntryRewritesWholePair(t *testing.T) {
	eng := newTestEngine(t, &scriptedStreamer{
		deltas: []llm.Delta{{Content: "hey"}},
	})
	conv, err := eng.Store().Create("t", testModel, "", models.LocalSupplierName)
	if err != nil {
		t.Fatal(err)
	}
	user := NewTurnEntry(models.RoleUser, "hi")
	assistant := NewTurnEntry(models.RoleAssistant, "old answer")
	if err := eng.Store().AppendTurns(conv.ContextID, user, assistant); err != nil {
		t.Fatal(err)
	}

	req := chatRequest(conv.ContextID, "hi")
	req.RegenerateID = assistant.ID
	if err := eng.Chat(context.Background(), httptest.NewRecorder(), req); err != nil {
		t.Fatal(err)
	}

	history, err := eng.Store().History(conv.ContextID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("expected the rewritten pair only, got %d entries", len(history))
	}
	if history[0].Role != models.RoleUser || history[1].Role != models.RoleAssistant {
		t.Fatalf("roles = [%s, %s]", history[0].Role, history[1].Role)
	}
	if history[1].Content != "hey" {
		t.Fatalf("assistant entry = %q", history[1].Content)
	}
}

func TestTempChatLeavesNoTrace(t *testing.T) {
	eng := newTestEngine(t, &scriptedStreamer{
		deltas: []llm.Delta{{Content: "ephemeral"}},
	})
	rec := httptest.NewRecorder()

	req := chatRequest("", "hi")
	req.TempChat = true
	if err := eng.Chat(context.Background(), rec, req); err != nil {
		t.Fatal(err)
	}
	if rec.Body.String() != "ephemeral" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	convs, err := eng.Store().List()
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 0 {
		t.Fatalf("temp chats must not persist, found %d conversations", len(convs))
	}
}

func mustObj(t *testing.T) *objstore.Store {
	t.Helper()
	obj, err := objstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return obj
}
