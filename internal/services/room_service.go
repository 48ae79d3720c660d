package services

import (
	"context"
	"errors"
	"time"

	"RoomMessenger/server/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

type RoomService interface {
	CreatePrivateRoom(ctx context.Context, creatorID, peerID int) (*models.Room, error)
	CreateGroupRoom(ctx context.Context, ownerID int, name, handle string, description, pictureURL *string, memberIDs []int) (*models.Room, error)
	GetRoomById(ctx context.Context, roomID int) (*models.Room, error)
	GetRoomsByUserId(ctx context.Context, userID int) ([]models.RoomWithRole, error)
	GetMembers(ctx context.Context, roomID int) ([]models.RoomMember, error)
	IsMember(ctx context.Context, roomID, userID int) (bool, error)
	MemberRole(ctx context.Context, roomID, userID int) (string, error)
	AddMember(ctx context.Context, roomID, userID int) error
	RemoveMember(ctx context.Context, roomID, userID int) error
	TransferOwnership(ctx context.Context, roomID, fromUserID, toUserID int) error
	DeleteRoom(ctx context.Context, roomID int) error
}

type roomService struct {
	db  *pgxpool.Pool
	log *zap.SugaredLogger
}

func NewRoomService(db *pgxpool.Pool, log *zap.SugaredLogger) *roomService {
	return &roomService{db: db, log: log}
}

func (rs *roomService) CreatePrivateRoom(ctx context.Context, creatorID, peerID int) (*models.Room, error) {
	if creatorID == peerID {
		return nil, models.ErrNotAllowed
	}

	// A private pair is unique; reuse the existing room if one exists.
	existing, err := rs.findPrivateRoom(ctx, creatorID, peerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	tx, err := rs.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sqlStr, args, err := psql.Insert("rooms").
		Columns("type", "created_at").
		Values(models.RoomTypePrivate, time.Now()).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return nil, err
	}

	room := &models.Room{Type: models.RoomTypePrivate}
	if err := tx.QueryRow(ctx, sqlStr, args...).Scan(&room.ID, &room.CreatedAt); err != nil {
		rs.log.Errorf("create private room: %v", err)
		return nil, err
	}

	sqlStr, args, err = psql.Insert("room_members").
		Columns("room_id", "user_id", "role").
		Values(room.ID, creatorID, models.RoleMember).
		Values(room.ID, peerID, models.RoleMember).
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
		rs.log.Errorf("add private room members: %v", err)
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	rs.log.Infof("private room %d created for users %d and %d", room.ID, creatorID, peerID)
	return room, nil
}

func (rs *roomService) CreateGroupRoom(ctx context.Context, ownerID int, name, handle string, description, pictureURL *string, memberIDs []int) (*models.Room, error) {
	if name == "" || handle == "" {
		return nil, models.ErrRoomMetadata
	}

	tx, err := rs.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sqlStr, args, err := psql.Insert("rooms").
		Columns("type", "name", "handle", "description", "picture_url", "created_at").
		Values(models.RoomTypeGroup, name, handle, description, pictureURL, time.Now()).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return nil, err
	}

	room := &models.Room{
		Type:        models.RoomTypeGroup,
		Name:        &name,
		Handle:      &handle,
		Description: description,
		PictureURL:  pictureURL,
	}
	if err := tx.QueryRow(ctx, sqlStr, args...).Scan(&room.ID, &room.CreatedAt); err != nil {
		rs.log.Errorf("create group room: %v", err)
		return nil, err
	}

	insert := psql.Insert("room_members").
		Columns("room_id", "user_id", "role").
		Values(room.ID, ownerID, models.RoleOwner)
	for _, id := range memberIDs {
		if id == ownerID {
			continue
		}
		insert = insert.Values(room.ID, id, models.RoleMember)
	}
	sqlStr, args, err = insert.ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
		rs.log.Errorf("add group room members: %v", err)
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	rs.log.Infof("group room %d (%s) created by user %d with %d members", room.ID, handle, ownerID, len(memberIDs)+1)
	return room, nil
}

func (rs *roomService) findPrivateRoom(ctx context.Context, user1ID, user2ID int) (*models.Room, error) {
	sqlStr, args, err := psql.Select("r.id", "r.type", "r.created_at").
		From("rooms r").
		Join("room_members m1 ON r.id = m1.room_id").
		Join("room_members m2 ON r.id = m2.room_id").
		Where(squirrel.Eq{
			"r.type":     models.RoomTypePrivate,
			"m1.user_id": user1ID,
			"m2.user_id": user2ID,
		}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var room models.Room
	err = rs.db.QueryRow(ctx, sqlStr, args...).Scan(&room.ID, &room.Type, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (rs *roomService) GetRoomById(ctx context.Context, roomID int) (*models.Room, error) {
	sqlStr, args, err := psql.Select("id", "type", "name", "handle", "description", "picture_url", "created_at").
		From("rooms").
		Where(squirrel.Eq{"id": roomID}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var room models.Room
	err = rs.db.QueryRow(ctx, sqlStr, args...).Scan(
		&room.ID, &room.Type, &room.Name, &room.Handle, &room.Description, &room.PictureURL, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (rs *roomService) GetRoomsByUserId(ctx context.Context, userID int) ([]models.RoomWithRole, error) {
	sqlStr, args, err := psql.Select("r.id", "r.type", "r.name", "r.handle", "r.description", "r.picture_url", "r.created_at", "m.role").
		From("rooms r").
		Join("room_members m ON r.id = m.room_id").
		Where(squirrel.Eq{"m.user_id": userID}).
		OrderBy("r.created_at DESC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := rs.db.Query(ctx, sqlStr, args...)
	if err != nil {
		rs.log.Errorf("get rooms for user %d: %v", userID, err)
		return nil, err
	}
	defer rows.Close()

	var rooms []models.RoomWithRole
	for rows.Next() {
		var r models.RoomWithRole
		if err := rows.Scan(&r.ID, &r.Type, &r.Name, &r.Handle, &r.Description, &r.PictureURL, &r.CreatedAt, &r.Role); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

func (rs *roomService) GetMembers(ctx context.Context, roomID int) ([]models.RoomMember, error) {
	sqlStr, args, err := psql.Select("id", "room_id", "user_id", "role", "joined_at").
		From("room_members").
		Where(squirrel.Eq{"room_id": roomID}).
		OrderBy("joined_at ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := rs.db.Query(ctx, sqlStr, args...)
	if err != nil {
		rs.log.Errorf("get members for room %d: %v", roomID, err)
		return nil, err
	}
	defer rows.Close()

	var members []models.RoomMember
	for rows.Next() {
		var m models.RoomMember
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (rs *roomService) IsMember(ctx context.Context, roomID, userID int) (bool, error) {
	var exists bool
	err := rs.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)`,
		roomID, userID).Scan(&exists)
	if err != nil {
		rs.log.Errorf("check membership of user %d in room %d: %v", userID, roomID, err)
		return false, err
	}
	return exists, nil
}

func (rs *roomService) MemberRole(ctx context.Context, roomID, userID int) (string, error) {
	sqlStr, args, err := psql.Select("role").
		From("room_members").
		Where(squirrel.Eq{"room_id": roomID, "user_id": userID}).
		ToSql()
	if err != nil {
		return "", err
	}

	var role string
	err = rs.db.QueryRow(ctx, sqlStr, args...).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", models.ErrNotMember
	}
	if err != nil {
		return "", err
	}
	return role, nil
}

func (rs *roomService) AddMember(ctx context.Context, roomID, userID int) error {
	sqlStr, args, err := psql.Insert("room_members").
		Columns("room_id", "user_id", "role").
		Values(roomID, userID, models.RoleMember).
		Suffix("ON CONFLICT (room_id, user_id) DO NOTHING").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := rs.db.Exec(ctx, sqlStr, args...); err != nil {
		rs.log.Errorf("add member %d to room %d: %v", userID, roomID, err)
		return err
	}
	rs.log.Infof("user %d added to room %d", userID, roomID)
	return nil
}

func (rs *roomService) RemoveMember(ctx context.Context, roomID, userID int) error {
	role, err := rs.MemberRole(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if role == models.RoleOwner {
		return models.ErrOwnerCannotLeave
	}

	sqlStr, args, err := psql.Delete("room_members").
		Where(squirrel.Eq{"room_id": roomID, "user_id": userID}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := rs.db.Exec(ctx, sqlStr, args...); err != nil {
		rs.log.Errorf("remove member %d from room %d: %v", userID, roomID, err)
		return err
	}
	rs.log.Infof("user %d removed from room %d", userID, roomID)
	return nil
}

// TransferOwnership demotes the current owner to admin and promotes the
// target member in one transaction, keeping exactly one owner per room.
func (rs *roomService) TransferOwnership(ctx context.Context, roomID, fromUserID, toUserID int) error {
	tx, err := rs.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var role string
	err = tx.QueryRow(ctx,
		`SELECT role FROM room_members WHERE room_id = $1 AND user_id = $2 FOR UPDATE`,
		roomID, fromUserID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotMember
	}
	if err != nil {
		return err
	}
	if role != models.RoleOwner {
		return models.ErrNotAllowed
	}

	tag, err := tx.Exec(ctx,
		`UPDATE room_members SET role = $1 WHERE room_id = $2 AND user_id = $3`,
		models.RoleOwner, roomID, toUserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotMember
	}

	if _, err := tx.Exec(ctx,
		`UPDATE room_members SET role = $1 WHERE room_id = $2 AND user_id = $3`,
		models.RoleAdmin, roomID, fromUserID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	rs.log.Infof("ownership of room %d transferred from user %d to user %d", roomID, fromUserID, toUserID)
	return nil
}

func (rs *roomService) DeleteRoom(ctx context.Context, roomID int) error {
	sqlStr, args, err := psql.Delete("rooms").
		Where(squirrel.Eq{"id": roomID}).
		ToSql()
	if err != nil {
		return err
	}

	tag, err := rs.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		rs.log.Errorf("delete room %d: %v", roomID, err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrRoomNotFound
	}

	rs.log.Infof("room %d deleted", roomID)
	return nil
}
