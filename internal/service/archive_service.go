package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mockexam_backend/internal/config"
	"mockexam_backend/internal/exam"
	"mockexam_backend/pkg/logger"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// ArchiveProvider 定义通用归档存储接口
type ArchiveProvider interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error)
	GetURL(objectName string) string
}

// LocalArchiveProvider 本地存储实现
type LocalArchiveProvider struct {
	Config *config.ArchiveConfig
}

func (p *LocalArchiveProvider) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	dst := filepath.Join(p.Config.LocalPath, objectName)
	dir := filepath.Dir(dst)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", err
		}
	}

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err = io.Copy(out, reader); err != nil {
		return "", err
	}
	return p.GetURL(objectName), nil
}

func (p *LocalArchiveProvider) GetURL(objectName string) string {
	return "/archives/" + objectName
}

// MinioArchiveProvider MinIO存储实现
type MinioArchiveProvider struct {
	Config *config.ArchiveConfig
	Client *minio.Client
}

func NewMinioArchiveProvider(cfg *config.ArchiveConfig) (*MinioArchiveProvider, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &MinioArchiveProvider{Config: cfg, Client: client}, nil
}

func (p *MinioArchiveProvider) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	_, err := p.Client.PutObject(ctx, p.Config.MinioBucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return p.GetURL(objectName), nil
}

func (p *MinioArchiveProvider) GetURL(objectName string) string {
	return "/" + p.Config.MinioBucket + "/" + objectName
}

// ArchiveService writes a JSON copy of every finalized result to object
// storage for offline analysis. Archiving is strictly best effort and never
// affects submission.
type ArchiveService struct {
	Provider ArchiveProvider
}

func NewArchiveService(cfg *config.Config) *ArchiveService {
	var provider ArchiveProvider
	switch cfg.Archive.Type {
	case "minio":
		p, err := NewMinioArchiveProvider(&cfg.Archive)
		if err != nil {
			logger.Log.Error("MinIO archive init failed, archiving disabled", zap.Error(err))
		} else {
			provider = p
		}
	case "local":
		provider = &LocalArchiveProvider{Config: &cfg.Archive}
	default:
		// off
	}
	return &ArchiveService{Provider: provider}
}

func (s *ArchiveService) Enabled() bool {
	return s != nil && s.Provider != nil
}

func (s *ArchiveService) ArchiveResult(attemptID, userID uint, res *exam.ResultSnapshot) {
	if s.Provider == nil {
		return
	}

	payload := map[string]interface{}{
		"attemptId":  attemptID,
		"userId":     userID,
		"archivedAt": time.Now().UTC(),
		"result":     res,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Log.Error("Archive marshal failed", zap.Error(err), zap.Uint("attemptId", attemptID))
		return
	}

	objectName := fmt.Sprintf("attempts/%d/result-%s.json", attemptID, uuid.New().String())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	url, err := s.Provider.Upload(ctx, objectName, bytes.NewReader(data), int64(len(data)), "application/json")
	if err != nil {
		logger.Log.Error("Result archive failed", zap.Error(err), zap.Uint("attemptId", attemptID))
		return
	}
	logger.Log.Info("Result archived", zap.Uint("attemptId", attemptID), zap.String("url", url))
}
