package database

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"read-library-backend/pkg/models"
)

func newSupabaseTest(t *testing.T, h http.HandlerFunc) *SupabaseDatabase {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewSupabaseDatabase(srv.URL, "service-key")
}

func TestSupabase_CreateSavedItem(t *testing.T) {
	db := newSupabaseTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/saved_items", r.URL.Path)
		assert.Equal(t, "service-key", r.Header.Get("apikey"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "PENDING", body["status"])
		assert.Equal(t, "u1", body["user_id"])

		fmt.Fprintf(w, `[{"id":%q,"url":"https://example.com","user_id":"u1","status":"PENDING","created_at":"2024-01-05T10:00:00+00:00","updated_at":"2024-01-05T10:00:00+00:00"}]`, body["id"])
	})

	item := &models.SavedItem{URL: "https://example.com", UserID: "u1"}
	require.NoError(t, db.CreateSavedItem(context.Background(), item))
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, 2024, item.CreatedAt.Year())
}

func TestSupabase_CompleteSavedItem(t *testing.T) {
	db := newSupabaseTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "eq.item-1", r.URL.Query().Get("id"))
		assert.Equal(t, "in.(PENDING,PROCESSING)", r.URL.Query().Get("status"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "COMPLETED", body["status"])
		assert.Equal(t, "T", body["title"])
		assert.Nil(t, body["og_image"])

		fmt.Fprint(w, `[{"id":"item-1","url":"https://example.com","user_id":"u1","status":"COMPLETED","title":"T","content":"body","og_image":null,"author":null,"published_at":"2024-01-05T00:00:00+00:00","created_at":"2024-01-05T10:00:00+00:00","updated_at":"2024-01-05T10:00:01+00:00"}]`)
	})

	title, content := "T", "body"
	item, err := db.CompleteSavedItem(context.Background(), "item-1", models.Extraction{Title: &title, Content: &content})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, item.Status)
	assert.Equal(t, "T", *item.Title)
	assert.Nil(t, item.Author)
	require.NotNil(t, item.PublishedAt)
	assert.Equal(t, 5, item.PublishedAt.Day())
}

func TestSupabase_FailSavedItem_NotPending(t *testing.T) {
	db := newSupabaseTest(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPatch:
			fmt.Fprint(w, `[]`)
		case http.MethodGet:
			assert.Equal(t, "status", r.URL.Query().Get("select"))
			fmt.Fprint(w, `[{"status":"FAILED"}]`)
		}
	})

	_, err := db.FailSavedItem(context.Background(), "item-1")
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestSupabase_GetSavedItem_InvalidID(t *testing.T) {
	db := newSupabaseTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":"22P02","message":"invalid input syntax for type uuid"}`)
	})

	_, err := db.GetSavedItem(context.Background(), "u1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSupabase_ListSavedItems(t *testing.T) {
	db := newSupabaseTest(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "eq.u1", q.Get("user_id"))
		assert.Equal(t, "created_at.desc,id.desc", q.Get("order"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Equal(t, "0", q.Get("offset"))
		assert.Equal(t, "count=exact", r.Header.Get("Prefer"))

		w.Header().Set("Content-Range", "0-1/42")
		fmt.Fprint(w, `[{"id":"a","status":"COMPLETED"},{"id":"b","status":"FAILED"}]`)
	})

	items, total, err := db.ListSavedItems(context.Background(), "u1", ListOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 42, total)
	assert.Len(t, items, 2)
}

func TestSupabase_DeleteSavedItem_NotFound(t *testing.T) {
	db := newSupabaseTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		fmt.Fprint(w, `[]`)
	})

	assert.ErrorIs(t, db.DeleteSavedItem(context.Background(), "u1", "item-1"), ErrNotFound)
}

func TestParseContentRangeTotal(t *testing.T) {
	assert.Equal(t, 57, parseContentRangeTotal("0-19/57"))
	assert.Equal(t, 0, parseContentRangeTotal("*/0"))
	assert.Equal(t, -1, parseContentRangeTotal("0-19/*"))
	assert.Equal(t, -1, parseContentRangeTotal(""))
}
