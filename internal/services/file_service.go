package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"RoomMessenger/server/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type FileService interface {
	SaveFile(ctx context.Context, ownerID int, fileName string, data []byte, width, height, duration *int) (*models.File, error)
	GetFileById(ctx context.Context, fileID int) (*models.File, error)
	StorageUsage(ctx context.Context, ownerID int) (int64, error)
}

type fileService struct {
	db         *pgxpool.Pool
	uploadDir  string
	maxStorage int64
	log        *zap.SugaredLogger
}

func NewFileService(db *pgxpool.Pool, uploadDir string, maxStorage int64, log *zap.SugaredLogger) *fileService {
	return &fileService{db: db, uploadDir: uploadDir, maxStorage: maxStorage, log: log}
}

// SaveFile stores an upload, deduplicating on content hash per owner and
// enforcing the owner's storage quota.
func (fs *fileService) SaveFile(ctx context.Context, ownerID int, fileName string, data []byte, width, height, duration *int) (*models.File, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	existing, err := fs.findByHash(ctx, ownerID, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		fs.log.Infof("file upload deduplicated for user %d (file %d)", ownerID, existing.ID)
		return existing, nil
	}

	used, err := fs.StorageUsage(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if exceedsQuota(used, int64(len(data)), fs.maxStorage) {
		return nil, models.ErrQuotaExceeded
	}

	if err := os.MkdirAll(fs.uploadDir, 0o755); err != nil {
		return nil, err
	}
	storedName := uuid.New().String() + filepath.Ext(fileName)
	if err := os.WriteFile(filepath.Join(fs.uploadDir, storedName), data, 0o644); err != nil {
		fs.log.Errorf("write upload for user %d: %v", ownerID, err)
		return nil, err
	}

	sqlStr, args, err := psql.Insert("files").
		Columns("owner_id", "file_name", "content_hash", "file_type", "size", "width", "height", "duration").
		Values(ownerID, storedName, hash, fileTypeFor(fileName), len(data), width, height, duration).
		Suffix("RETURNING id, uploaded_at").
		ToSql()
	if err != nil {
		return nil, err
	}

	file := &models.File{
		OwnerID:     ownerID,
		FileName:    storedName,
		ContentHash: hash,
		FileType:    fileTypeFor(fileName),
		Size:        int64(len(data)),
		Width:       width,
		Height:      height,
		Duration:    duration,
	}
	if err := fs.db.QueryRow(ctx, sqlStr, args...).Scan(&file.ID, &file.UploadedAt); err != nil {
		fs.log.Errorf("save file for user %d: %v", ownerID, err)
		return nil, err
	}

	fs.log.Infof("file %d (%s, %d bytes) uploaded by user %d", file.ID, file.FileType, file.Size, ownerID)
	return file, nil
}

func (fs *fileService) findByHash(ctx context.Context, ownerID int, hash string) (*models.File, error) {
	sqlStr, args, err := psql.Select("id", "owner_id", "message_id", "file_name", "content_hash",
		"file_type", "size", "width", "height", "duration", "uploaded_at").
		From("files").
		Where(squirrel.Eq{"owner_id": ownerID, "content_hash": hash}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var f models.File
	err = fs.db.QueryRow(ctx, sqlStr, args...).Scan(&f.ID, &f.OwnerID, &f.MessageID, &f.FileName,
		&f.ContentHash, &f.FileType, &f.Size, &f.Width, &f.Height, &f.Duration, &f.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (fs *fileService) GetFileById(ctx context.Context, fileID int) (*models.File, error) {
	sqlStr, args, err := psql.Select("id", "owner_id", "message_id", "file_name", "content_hash",
		"file_type", "size", "width", "height", "duration", "uploaded_at").
		From("files").
		Where(squirrel.Eq{"id": fileID}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var f models.File
	err = fs.db.QueryRow(ctx, sqlStr, args...).Scan(&f.ID, &f.OwnerID, &f.MessageID, &f.FileName,
		&f.ContentHash, &f.FileType, &f.Size, &f.Width, &f.Height, &f.Duration, &f.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (fs *fileService) StorageUsage(ctx context.Context, ownerID int) (int64, error) {
	var used int64
	err := fs.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(size), 0) FROM files WHERE owner_id = $1`, ownerID).Scan(&used)
	if err != nil {
		fs.log.Errorf("storage usage for user %d: %v", ownerID, err)
		return 0, err
	}
	return used, nil
}

func exceedsQuota(used, incoming, max int64) bool {
	return used+incoming > max
}

func fileTypeFor(fileName string) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return "image"
	case ".mp4", ".mov", ".webm", ".mkv":
		return "video"
	case ".mp3", ".ogg", ".wav", ".m4a":
		return "audio"
	default:
		return "file"
	}
}
