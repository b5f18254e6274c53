package uploads

import (
	"context"
	"fmt"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"go.uber.org/zap"

	"github.com/rajivgeraev/worklio-client/internal/config"
)

// CloudinaryUploader загружает вложения сообщений в Cloudinary
type CloudinaryUploader struct {
	cld          *cloudinary.Cloudinary
	uploadFolder string
	uploadPreset string
	log          *zap.SugaredLogger
}

// NewCloudinaryUploader создает новый экземпляр CloudinaryUploader
func NewCloudinaryUploader(cfg *config.Config, log *zap.SugaredLogger) (*CloudinaryUploader, error) {
	cld, err := cloudinary.NewFromParams(
		cfg.CloudinaryConfig.CloudName,
		cfg.CloudinaryConfig.APIKey,
		cfg.CloudinaryConfig.APISecret,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка при инициализации Cloudinary: %w", err)
	}

	return &CloudinaryUploader{
		cld:          cld,
		uploadFolder: cfg.CloudinaryConfig.UploadFolder,
		uploadPreset: cfg.CloudinaryConfig.UploadPreset,
		log:          log,
	}, nil
}

// Upload загружает один файл и возвращает его постоянный URL
func (u *CloudinaryUploader) Upload(ctx context.Context, filePath string) (string, error) {
	resp, err := u.cld.Upload.Upload(ctx, filePath, uploader.UploadParams{
		Folder:       u.uploadFolder,
		UploadPreset: u.uploadPreset,
	})
	if err != nil {
		return "", fmt.Errorf("ошибка при загрузке файла %s: %w", filePath, err)
	}

	u.log.Debugw("вложение загружено", "file", filePath, "url", resp.SecureURL)
	return resp.SecureURL, nil
}
