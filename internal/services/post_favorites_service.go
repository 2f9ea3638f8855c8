package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ashcz/coinwatch/internal/models"
	"github.com/ashcz/coinwatch/internal/posts"
	"github.com/ashcz/coinwatch/internal/realtime"
)

// PostFavoritesService manages bookmarked placeholder posts.
type PostFavoritesService struct {
	db  *gorm.DB
	hub *realtime.Hub
}

// NewPostFavoritesService constructs a PostFavoritesService.
func NewPostFavoritesService(db *gorm.DB, hub *realtime.Hub) (*PostFavoritesService, error) {
	if db == nil {
		return nil, errors.New("post favorites service: db is required")
	}
	return &PostFavoritesService{db: db, hub: hub}, nil
}

// List returns all bookmarked posts ordered by id.
func (s *PostFavoritesService) List(ctx context.Context) ([]posts.Post, error) {
	rows, err := s.listRows(ctx)
	if err != nil {
		return nil, err
	}
	return mapPostRows(rows), nil
}

// IsFavorite reports whether the post id is bookmarked.
func (s *PostFavoritesService) IsFavorite(ctx context.Context, postID int) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.FavoritePost{}).
		Where("post_id = ?", postID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("post favorites service: check favorite: %w", err)
	}
	return count > 0, nil
}

// SetFavorite adds or removes a post bookmark.
func (s *PostFavoritesService) SetFavorite(ctx context.Context, post posts.Post, favorite bool) error {
	if post.ID <= 0 {
		return errors.New("post favorites service: post id is required")
	}

	if favorite {
		row := models.FavoritePost{
			PostID: post.ID,
			Title:  post.Title,
			Body:   post.Body,
		}
		if err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "post_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"title", "body", "updated_at"}),
			}).Create(&row).Error; err != nil {
			return fmt.Errorf("post favorites service: upsert favorite: %w", err)
		}
	} else {
		if err := s.db.WithContext(ctx).
			Where("post_id = ?", post.ID).
			Delete(&models.FavoritePost{}).Error; err != nil {
			return fmt.Errorf("post favorites service: delete favorite: %w", err)
		}
	}

	s.broadcast(ctx)
	return nil
}

func (s *PostFavoritesService) listRows(ctx context.Context) ([]models.FavoritePost, error) {
	var rows []models.FavoritePost
	if err := s.db.WithContext(ctx).
		Order("post_id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("post favorites service: list favorites: %w", err)
	}
	return rows, nil
}

func (s *PostFavoritesService) broadcast(ctx context.Context) {
	if s.hub == nil {
		return
	}

	rows, err := s.listRows(ctx)
	if err != nil {
		return
	}
	s.hub.Broadcast(realtime.StreamPostFavorites, realtime.Event{
		Event: "favorites.changed",
		Data:  mapPostRows(rows),
	})
}

func mapPostRows(rows []models.FavoritePost) []posts.Post {
	items := make([]posts.Post, 0, len(rows))
	for _, row := range rows {
		items = append(items, posts.Post{
			ID:    row.PostID,
			Title: row.Title,
			Body:  row.Body,
		})
	}
	return items
}
