package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/ashcz/coinwatch/pkg/errors"
	"github.com/ashcz/coinwatch/pkg/response"

	"github.com/ashcz/coinwatch/internal/posts"
	"github.com/ashcz/coinwatch/internal/services"
)

// PostsHandler proxies the remote post feed and manages favorite posts.
type PostsHandler struct {
	client    *posts.Client
	favorites *services.PostFavoritesService
}

// NewPostsHandler constructs a PostsHandler.
func NewPostsHandler(client *posts.Client, favorites *services.PostFavoritesService) *PostsHandler {
	return &PostsHandler{client: client, favorites: favorites}
}

// List returns the remote post feed.
// GET /api/posts
func (h *PostsHandler) List(c *gin.Context) {
	items, err := h.client.Posts(c.Request.Context())
	if err != nil {
		response.Error(c, apperrors.ErrUpstreamUnavailable.WithMessage("Post feed is unavailable").WithInternal(err))
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, items, &response.Meta{Count: len(items)})
}

// Get returns one post by id.
// GET /api/posts/:id
func (h *PostsHandler) Get(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		response.Error(c, apperrors.NewBadRequest("post id must be a positive integer"))
		return
	}

	post, err := h.client.Post(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, posts.ErrNotFound) {
			response.Error(c, apperrors.ErrNotFound.WithMessage("Post not found"))
			return
		}
		response.Error(c, apperrors.ErrUpstreamUnavailable.WithMessage("Post feed is unavailable").WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, post)
}

// ListFavorites returns the stored favorite posts.
// GET /api/favorites/posts
func (h *PostsHandler) ListFavorites(c *gin.Context) {
	items, err := h.favorites.List(c.Request.Context())
	if err != nil {
		response.Error(c, apperrors.Wrap(err, "failed to list favorite posts"))
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, items, &response.Meta{Count: len(items)})
}

// SetFavorite marks or unmarks a post as favorite. Marking fetches the post
// so its title and body are stored alongside the id.
// PUT /api/favorites/posts/:id
func (h *PostsHandler) SetFavorite(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		response.Error(c, apperrors.NewBadRequest("post id must be a positive integer"))
		return
	}

	var req SetFavoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest("Invalid request body"))
		return
	}

	post := posts.Post{ID: id}
	if req.Favorite {
		resolved, err := h.client.Post(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, posts.ErrNotFound) {
				response.Error(c, apperrors.ErrNotFound.WithMessage("Post not found"))
				return
			}
			response.Error(c, apperrors.ErrUpstreamUnavailable.WithMessage("Post feed is unavailable").WithInternal(err))
			return
		}
		post = *resolved
	}

	if err := h.favorites.SetFavorite(c.Request.Context(), post, req.Favorite); err != nil {
		response.Error(c, apperrors.Wrap(err, "failed to update favorite post"))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"id": id, "favorite": req.Favorite})
}
