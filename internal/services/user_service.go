package services

import (
	"context"
	"errors"

	"RoomMessenger/server/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// UserService covers the slice of the user entity this service owns: reading
// identities for member listings and stamping last-seen on disconnect.
// Account management lives elsewhere.
type UserService interface {
	GetUserById(ctx context.Context, userID int) (*models.User, error)
	GetUsersByIds(ctx context.Context, userIDs []int) ([]models.User, error)
	UpdateLastSeen(ctx context.Context, userID int) error
}

type userService struct {
	db  *pgxpool.Pool
	log *zap.SugaredLogger
}

func NewUserService(db *pgxpool.Pool, log *zap.SugaredLogger) *userService {
	return &userService{db: db, log: log}
}

func (us *userService) GetUserById(ctx context.Context, userID int) (*models.User, error) {
	sqlStr, args, err := psql.Select("id", "username", "email", "last_seen_at", "created_at").
		From("users").
		Where(squirrel.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var user models.User
	err = us.db.QueryRow(ctx, sqlStr, args...).Scan(
		&user.ID, &user.Username, &user.Email, &user.LastSeenAt, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (us *userService) GetUsersByIds(ctx context.Context, userIDs []int) ([]models.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	sqlStr, args, err := psql.Select("id", "username", "email", "last_seen_at", "created_at").
		From("users").
		Where(squirrel.Eq{"id": userIDs}).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := us.db.Query(ctx, sqlStr, args...)
	if err != nil {
		us.log.Errorf("get users by ids: %v", err)
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.LastSeenAt, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (us *userService) UpdateLastSeen(ctx context.Context, userID int) error {
	_, err := us.db.Exec(ctx,
		`UPDATE users SET last_seen_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		us.log.Errorf("update last seen for user %d: %v", userID, err)
	}
	return err
}
