package service

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"
	"time"

	"proposal/internal/storage"
)

// ErrStorageNotConfigured is returned when no photo bucket is configured.
var ErrStorageNotConfigured = errors.New("storage service not configured")

var photoExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
	".avif": {},
}

// Photo is a viewable bouquet image.
type Photo struct {
	Key          string
	URL          string
	Size         int64
	LastModified *time.Time
}

// PhotoService lists the bouquet photos behind short-lived URLs.
type PhotoService interface {
	ListPhotos(ctx context.Context) ([]Photo, error)
}

type photoService struct {
	store     storage.Service
	bucket    string
	keyPrefix string
	expiry    time.Duration
}

func NewPhotoService(store storage.Service, bucket, keyPrefix string, expiry time.Duration) PhotoService {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &photoService{
		store:     store,
		bucket:    bucket,
		keyPrefix: strings.Trim(keyPrefix, "/"),
		expiry:    expiry,
	}
}

func (s *photoService) ListPhotos(ctx context.Context) ([]Photo, error) {
	if s.store == nil || s.bucket == "" {
		return nil, ErrStorageNotConfigured
	}

	prefix := s.keyPrefix
	if prefix != "" {
		prefix += "/"
	}
	objects, err := s.store.ListObjects(ctx, s.bucket, prefix)
	if err != nil {
		return nil, err
	}

	photos := make([]Photo, 0, len(objects))
	for _, obj := range objects {
		if _, ok := photoExtensions[strings.ToLower(path.Ext(obj.Key))]; !ok {
			continue
		}
		url, err := s.store.GetObjectURL(ctx, s.bucket, obj.Key, s.expiry)
		if err != nil {
			return nil, err
		}
		photos = append(photos, Photo{
			Key:          obj.Key,
			URL:          url,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}

	sort.Slice(photos, func(i, j int) bool { return photos[i].Key < photos[j].Key })
	return photos, nil
}
