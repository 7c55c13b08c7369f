package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-console-cli/internal/model"
)

func TestListSessions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/sessions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"s1","title":"Demo","status":"active"}]`))
	}))
	defer srv.Close()

	sessions, err := NewClient(srv.URL).ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "Demo", sessions[0].Title)
}

func TestCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "Demo", body["title"])
		w.Write([]byte(`{"id":"s1","title":"Demo","status":"active"}`))
	}))
	defer srv.Close()

	session, err := NewClient(srv.URL).CreateSession("Demo")
	require.NoError(t, err)
	assert.Equal(t, "s1", session.ID)
}

func TestUpdateSessionSendsPatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PATCH", r.Method)
		assert.Equal(t, "/api/sessions/s1", r.URL.Path)
		var patch SessionPatch
		json.NewDecoder(r.Body).Decode(&patch)
		require.NotNil(t, patch.Title)
		assert.Equal(t, "新标题", *patch.Title)
		assert.Nil(t, patch.Status)
		w.Write([]byte(`{"id":"s1","title":"新标题","status":"active"}`))
	}))
	defer srv.Close()

	title := "新标题"
	session, err := NewClient(srv.URL).UpdateSession("s1", SessionPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "新标题", session.Title)
}

func TestSendMessageCarriesClientID(t *testing.T) {
	// 关联 ID 随请求携带，供服务端在推送事件中回传
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/s1/messages", r.URL.Path)
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "hi", body["content"])
		assert.Equal(t, "c-1", body["client_id"])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL).SendMessage("s1", "hi", "c-1"))
}

func TestNonOKStatusReturnsTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Session not found", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).DeleteSession("missing")
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestUploadFileMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s1", r.URL.Query().Get("session_id"))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "报告.txt", header.Filename)
		w.Write([]byte(`{"id":"f1","filename":"报告.txt","size":6}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "报告.txt")
	require.NoError(t, os.WriteFile(path, []byte("内容"), 0644))

	record, err := NewClient(srv.URL).UploadFile("s1", &model.StagedFile{
		LocalID:  "local-1",
		Path:     path,
		Filename: "报告.txt",
		Size:     6,
	})
	require.NoError(t, err)
	assert.Equal(t, "f1", record.ID)
}

func TestUploadMissingFile(t *testing.T) {
	client := NewClient("http://example.invalid")

	_, err := client.UploadFile("s1", &model.StagedFile{Path: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)
}

func TestDeleteFileQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "/api/files/f1", r.URL.Path)
		assert.Equal(t, "s1", r.URL.Query().Get("session_id"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL).DeleteFile("f1", "s1"))
}
