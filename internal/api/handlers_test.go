package api

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/freeform/internal/browser/dom"
	"github.com/xkilldash9x/freeform/internal/browser/layout"
	"github.com/xkilldash9x/freeform/internal/config"
	"github.com/xkilldash9x/freeform/internal/editor/state"
	"github.com/xkilldash9x/freeform/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const doc = `<html><body>
	<div id="container" style="position: relative; width: 800px; height: 600px">
		<div id="card" style="width: 50px; height: 50px">x</div>
	</div>
</body></html>`

type fixture struct {
	manager *state.Manager
	page    *layout.Page
	server  *httptest.Server
}

func newFixture(t *testing.T, withPage bool) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	f := &fixture{manager: state.New(store.NewMemory(), state.WithLogger(logger))}
	var h *Handlers
	if withPage {
		p, err := layout.ParsePageString(doc)
		require.NoError(t, err)
		f.page = p
		h = NewHandlers(logger, f.manager, p)
	} else {
		h = NewHandlers(logger, f.manager, nil)
	}
	f.server = httptest.NewServer(NewServer(config.ServerConfig{}, logger, h).Handler())
	t.Cleanup(http.DefaultClient.CloseIdleConnections)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

const cardJSON = `{"id":"el_card","selector":"//*[@id='card']","originalTagName":"div",
	"position":{"x":142,"y":100,"unit":"px"},
	"styles":{"position":"absolute","left":"142px","top":"100px"}}`

func TestSaveAndList(t *testing.T) {
	f := newFixture(t, false)

	var saved struct {
		Success bool
		Data    state.ElementState
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/elements", cardJSON, &saved))
	assert.True(t, saved.Success)
	assert.Equal(t, "el_card", saved.Data.ID)
	assert.Equal(t, state.DefaultPage, saved.Data.PageID)
	assert.NotZero(t, saved.Data.UpdatedAt)

	var list struct {
		Success bool
		Data    []state.ElementState
		Count   int
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/elements", "", &list))
	assert.Equal(t, 1, list.Count)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "142px", list.Data[0].Styles["left"])

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/elements?pageId=other", "", &list))
	assert.Equal(t, 0, list.Count)

	var one Response
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/elements/el_card", "", &one))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/elements/nope", "", &one))
	assert.Equal(t, "Element not found", one.Error)
}

func TestSaveValidation(t *testing.T) {
	f := newFixture(t, false)
	var resp Response
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/elements", `{"selector":"//p"}`, &resp))
	assert.Equal(t, "Missing element id", resp.Error)
	assert.False(t, resp.Success)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/elements", `{`, &resp))
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/elements?history=maybe", cardJSON, &resp))
}

func TestSaveWithoutHistory(t *testing.T) {
	f := newFixture(t, false)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/elements?history=false", cardJSON, nil))
	assert.False(t, f.manager.CanUndo())
}

func TestBatch(t *testing.T) {
	f := newFixture(t, false)
	var resp BatchResponse
	body := `{"states":[` + cardJSON + `,{"selector":"//p"},{"id":"el_2","selector":"//p"}]}`
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/api/elements", body, &resp))
	assert.Equal(t, []BatchResult{
		{ID: "el_card", Success: true},
		{ID: "unknown", Error: "missing element id"},
		{ID: "el_2", Success: true},
	}, resp.Results)

	var bad Response
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/elements", `{}`, &bad))
	assert.Equal(t, "States must be an array", bad.Error)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, false)
	f.do(t, http.MethodPost, "/api/elements", cardJSON, nil)

	var resp DeleteResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/elements?id=el_card", "", &resp))
	assert.True(t, resp.Deleted)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/elements/el_card", "", &resp))
	assert.False(t, resp.Deleted)

	var bad Response
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodDelete, "/api/elements", "", &bad))
}

func TestHistoryRoundTrip(t *testing.T) {
	f := newFixture(t, true)
	f.do(t, http.MethodPost, "/api/elements", cardJSON, nil)

	cardNode, err := dom.QueryAll(f.page.Root(), "//*[@id='card']")
	require.NoError(t, err)
	require.Len(t, cardNode, 1)
	assert.Equal(t, "el_card", dom.AttrOr(cardNode[0], state.AttrElementID), "saves are applied to the attached document")

	var status struct {
		Data HistoryStatus
	}
	f.do(t, http.MethodGet, "/api/history?entries=true", "", &status)
	assert.Equal(t, HistoryStatus{CanUndo: true, Index: 0, Length: 1, Entries: status.Data.Entries}, status.Data)
	require.Len(t, status.Data.Entries, 1)
	assert.Equal(t, state.ActionCreate, status.Data.Entries[0].Action)

	var step StepResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/history/undo", "", &step))
	assert.True(t, step.Applied)
	assert.Equal(t, "el_card", step.Step.ElementID)
	assert.Equal(t, HistoryStatus{CanRedo: true, Index: -1, Length: 1}, step.History)
	_, tagged := dom.Attr(cardNode[0], state.AttrElementID)
	assert.False(t, tagged)

	f.do(t, http.MethodPost, "/api/history/undo", "", &step)
	assert.False(t, step.Applied)

	f.do(t, http.MethodPost, "/api/history/redo", "", &step)
	assert.True(t, step.Applied)
	assert.Equal(t, "142px", dom.GetStyle(cardNode[0], "left"))

	f.do(t, http.MethodDelete, "/api/history", "", nil)
	assert.False(t, f.manager.CanUndo())
}

func TestRestoreAndPage(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.manager.SaveState(context.Background(), state.ElementState{
		ID:       "el_card",
		Selector: "//*[@id='card']",
		Styles:   state.Styles{"left": "10px"},
	}, false))
	require.NoError(t, f.manager.SaveState(context.Background(), state.ElementState{
		ID:       "el_gone",
		Selector: "//*[@id='gone']",
	}, false))

	var resp struct {
		Data state.RestoreReport
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/restore", "", &resp))
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Restored)
	require.Len(t, resp.Data.Skipped, 1)
	assert.Equal(t, "not found", resp.Data.Skipped[0].Reason)

	r, err := http.Get(f.server.URL + "/page")
	require.NoError(t, err)
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, r.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), `data-element-id="el_card"`)
	assert.Contains(t, string(body), "left: 10px")
}

func TestNoDocument(t *testing.T) {
	f := newFixture(t, false)
	var resp Response
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodPost, "/api/restore", "", &resp))
	r, err := http.Get(f.server.URL + "/page")
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusNotFound, r.StatusCode)
}

func TestHealthAndCORS(t *testing.T) {
	f := newFixture(t, false)
	r, err := http.Get(f.server.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(r.Body)
	r.Body.Close()
	assert.Equal(t, "OK", string(body))
	assert.Equal(t, "*", r.Header.Get("Access-Control-Allow-Origin"))

	req, _ := http.NewRequest(http.MethodOptions, f.server.URL+"/api/elements", nil)
	r, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusNoContent, r.StatusCode)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	logger := zaptest.NewLogger(t)
	h := NewHandlers(logger, state.New(store.NewMemory()), nil)
	srv := NewServer(config.ServerConfig{ShutdownTimeout: time.Second}, logger, h)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	r, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusOK, r.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	http.DefaultClient.CloseIdleConnections()
}
