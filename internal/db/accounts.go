package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pysugar/app-portal/internal/account"
	"github.com/pysugar/app-portal/internal/db/models"
)

// AccountRepository implements account.Repository on gorm.
type AccountRepository struct {
	db *gorm.DB
}

var _ account.Repository = (*AccountRepository)(nil)

// NewAccountRepository wraps an initialized database.
func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func keysInOrder(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (account.Account, error) {
	var m models.Account
	err := r.db.WithContext(ctx).
		Preload("APIKeys", keysInOrder).
		Where("email_key = ?", account.NormalizeEmail(email)).
		First(&m).Error
	if err != nil {
		return account.Account{}, translate(err)
	}
	return fromModel(m), nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (account.Account, error) {
	var m models.Account
	err := r.db.WithContext(ctx).
		Preload("APIKeys", keysInOrder).
		Where("id = ?", id).
		First(&m).Error
	if err != nil {
		return account.Account{}, translate(err)
	}
	return fromModel(m), nil
}

func (r *AccountRepository) Insert(ctx context.Context, acct account.Account) (account.Account, error) {
	if acct.ID == "" {
		return account.Account{}, fmt.Errorf("insert account: empty id")
	}

	m := toModel(acct)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Account{}).Where("email_key = ?", m.EmailKey).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return account.ErrDuplicateEmail
		}
		return tx.Create(&m).Error
	})
	if err != nil {
		return account.Account{}, translate(err)
	}
	return r.GetByID(ctx, acct.ID)
}

func (r *AccountRepository) Update(ctx context.Context, acct account.Account) (account.Account, error) {
	m := toModel(acct)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Account
		if err := tx.Where("id = ?", m.ID).First(&existing).Error; err != nil {
			return err
		}
		m.CreatedAt = existing.CreatedAt

		if err := tx.Omit(clause.Associations).Save(&m).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", m.ID).Delete(&models.APIKey{}).Error; err != nil {
			return err
		}
		if len(m.APIKeys) > 0 {
			return tx.Create(&m.APIKeys).Error
		}
		return nil
	})
	if err != nil {
		return account.Account{}, translate(err)
	}
	return r.GetByID(ctx, acct.ID)
}

func (r *AccountRepository) List(ctx context.Context) ([]account.Account, error) {
	var rows []models.Account
	err := r.db.WithContext(ctx).
		Preload("APIKeys", keysInOrder).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	out := make([]account.Account, 0, len(rows))
	for _, m := range rows {
		out = append(out, fromModel(m))
	}
	return out, nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return account.ErrNotFound
	case errors.Is(err, account.ErrDuplicateEmail):
		return account.ErrDuplicateEmail
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return account.ErrDuplicateEmail
	}
	return fmt.Errorf("account store: %w", err)
}

func toModel(a account.Account) models.Account {
	m := models.Account{
		ID:              a.ID,
		Email:           a.Email,
		EmailKey:        account.NormalizeEmail(a.Email),
		Name:            a.Name,
		Company:         a.Company,
		Role:            string(a.Role),
		Source:          string(a.Source),
		PasswordHash:    a.PasswordHash,
		Theme:           string(a.Preferences.Theme),
		Notifications:   a.Preferences.Notifications,
		DefaultTTSVoice: a.Preferences.DefaultTTSVoice,
		IsActive:        a.IsActive,
		LastLogin:       a.LastLogin,
		CreatedAt:       a.CreatedAt,
	}
	for i, k := range a.APIKeys {
		m.APIKeys = append(m.APIKeys, models.APIKey{
			ID:        k.ID,
			AccountID: a.ID,
			Position:  i,
			Name:      k.Name,
			Key:       k.Key,
			Service:   string(k.Service),
			IsActive:  k.IsActive,
			LastUsed:  k.LastUsed,
			CreatedAt: k.CreatedAt,
		})
	}
	return m
}

func fromModel(m models.Account) account.Account {
	a := account.Account{
		ID:      m.ID,
		Email:   m.Email,
		Name:    m.Name,
		Company: m.Company,
		Role:    account.Role(m.Role),
		APIKeys: make([]account.APIKey, 0, len(m.APIKeys)),
		Preferences: account.Preferences{
			Theme:           account.Theme(m.Theme),
			Notifications:   m.Notifications,
			DefaultTTSVoice: m.DefaultTTSVoice,
		},
		CreatedAt:    m.CreatedAt,
		LastLogin:    m.LastLogin,
		IsActive:     m.IsActive,
		Source:       account.Source(m.Source),
		PasswordHash: m.PasswordHash,
	}
	for _, k := range m.APIKeys {
		a.APIKeys = append(a.APIKeys, account.APIKey{
			ID:        k.ID,
			Name:      k.Name,
			Key:       k.Key,
			Service:   account.Service(k.Service),
			CreatedAt: k.CreatedAt,
			LastUsed:  k.LastUsed,
			IsActive:  k.IsActive,
		})
	}
	return a
}
