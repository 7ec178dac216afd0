// Package repository implements the gorm-backed persistence layer for
// every entity this core owns: constructor-injected *gorm.DB, WithDB
// override for transactions, structured logging around every call.
package repository

import (
	"context"
	"errors"
	"fmt"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"strategyexecutor/internal/model"
)

// UserRepository handles read/write operations for User rows.
type UserRepository struct {
	db  *gorm.DB
	log *logger.Entry
}

func NewUserRepository(db *gorm.DB, log *logger.Entry) *UserRepository {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &UserRepository{db: db, log: log.WithField("component", "repository.UserRepository")}
}

func (r *UserRepository) WithDB(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db, log: r.log}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		r.log.WithError(err).Error("create user failed")
		return fmt.Errorf("repository: create user: %w", err)
	}
	return nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: find user by email: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) Get(ctx context.Context, id model.ID) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get user: %w", err)
	}
	return &user, nil
}
