package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ashcz/coinwatch/internal/models"
)

const currencyPreferencesKey = "market.currency"

// DefaultVsCurrency is used when no preference has been stored yet.
const DefaultVsCurrency = "usd"

// CurrencyPreferences mirrors the stored currency selection state.
// ManualCurrency remembers the last non-location selection so it can be
// restored when location-based selection is switched off.
type CurrencyPreferences struct {
	VsCurrency          string `json:"vs_currency"`
	ManualCurrency      string `json:"manual_currency,omitempty"`
	UseLocationCurrency bool   `json:"use_location_currency"`
}

// SettingsService persists application preferences as JSON documents.
type SettingsService struct {
	db *gorm.DB
}

// NewSettingsService constructs a SettingsService.
func NewSettingsService(db *gorm.DB) (*SettingsService, error) {
	if db == nil {
		return nil, errors.New("settings service: db is required")
	}
	return &SettingsService{db: db}, nil
}

// CurrencyPreferences returns the stored selection, defaulting to usd.
func (s *SettingsService) CurrencyPreferences(ctx context.Context) (CurrencyPreferences, error) {
	prefs := CurrencyPreferences{VsCurrency: DefaultVsCurrency}

	var row models.Setting
	err := s.db.WithContext(ctx).Take(&row, "key = ?", currencyPreferencesKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return prefs, nil
	}
	if err != nil {
		return prefs, fmt.Errorf("settings service: load preferences: %w", err)
	}

	if err := json.Unmarshal(row.Value, &prefs); err != nil {
		return CurrencyPreferences{VsCurrency: DefaultVsCurrency},
			fmt.Errorf("settings service: decode preferences: %w", err)
	}
	if strings.TrimSpace(prefs.VsCurrency) == "" {
		prefs.VsCurrency = DefaultVsCurrency
	}
	return prefs, nil
}

// SetVsCurrency stores the active quote currency.
func (s *SettingsService) SetVsCurrency(ctx context.Context, code string) error {
	code = normalizeCode(code)
	if code == "" {
		return errors.New("settings service: currency code is required")
	}

	prefs, err := s.CurrencyPreferences(ctx)
	if err != nil {
		return err
	}
	prefs.VsCurrency = code
	return s.save(ctx, prefs)
}

// SetManualCurrency records an explicit user selection, which also disables
// location-based selection.
func (s *SettingsService) SetManualCurrency(ctx context.Context, code string) error {
	code = normalizeCode(code)
	if code == "" {
		return errors.New("settings service: currency code is required")
	}

	prefs, err := s.CurrencyPreferences(ctx)
	if err != nil {
		return err
	}
	prefs.ManualCurrency = code
	prefs.VsCurrency = code
	prefs.UseLocationCurrency = false
	return s.save(ctx, prefs)
}

// EnableLocationCurrency switches to location-based selection, remembering the
// current currency as the manual choice to restore later.
func (s *SettingsService) EnableLocationCurrency(ctx context.Context) error {
	prefs, err := s.CurrencyPreferences(ctx)
	if err != nil {
		return err
	}

	if strings.TrimSpace(prefs.ManualCurrency) == "" {
		prefs.ManualCurrency = prefs.VsCurrency
	}
	prefs.UseLocationCurrency = true
	return s.save(ctx, prefs)
}

// DisableLocationCurrency switches back to the remembered manual currency.
func (s *SettingsService) DisableLocationCurrency(ctx context.Context) error {
	prefs, err := s.CurrencyPreferences(ctx)
	if err != nil {
		return err
	}

	manual := normalizeCode(prefs.ManualCurrency)
	if manual == "" {
		manual = DefaultVsCurrency
	}
	prefs.UseLocationCurrency = false
	prefs.VsCurrency = manual
	return s.save(ctx, prefs)
}

func (s *SettingsService) save(ctx context.Context, prefs CurrencyPreferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("settings service: encode preferences: %w", err)
	}

	row := models.Setting{
		Key:   currencyPreferencesKey,
		Value: datatypes.JSON(data),
	}

	err = s.db.WithContext(ctx).Create(&row).Error
	if err == nil {
		return nil
	}
	if !isUniqueConstraintError(err) {
		return fmt.Errorf("settings service: store preferences: %w", err)
	}

	if err := s.db.WithContext(ctx).
		Model(&models.Setting{}).
		Where("key = ?", currencyPreferencesKey).
		Update("value", datatypes.JSON(data)).Error; err != nil {
		return fmt.Errorf("settings service: update preferences: %w", err)
	}
	return nil
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
