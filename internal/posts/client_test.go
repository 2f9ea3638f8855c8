package posts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPostsList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/posts", r.URL.Path)
		_, _ = w.Write([]byte(`[{"userId":1,"id":1,"title":"hello","body":"world"},{"userId":1,"id":2,"title":"second","body":"post"}]`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	posts, err := client.Posts(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 2)
	require.Equal(t, 1, posts[0].ID)
	require.Equal(t, "hello", posts[0].Title)
}

func TestPostByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/posts/7", r.URL.Path)
		_, _ = w.Write([]byte(`{"userId":1,"id":7,"title":"seven","body":"lucky"}`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	post, err := client.Post(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 7, post.ID)
	require.Equal(t, "seven", post.Title)
}

func TestPostNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	_, err := client.Post(context.Background(), 999)
	require.ErrorIs(t, err, ErrNotFound)
}
