package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no object exists at a key.
var ErrNotFound = errors.New("object not found")

// Metadata describes a stored object
type Metadata struct {
	ContentType    string            `json:"contentType,omitempty"`
	OrganizationID string            `json:"organizationId,omitempty"`
	MissionID      string            `json:"missionId,omitempty"`
	TaskID         string            `json:"taskId,omitempty"`
	CreatedAt      time.Time         `json:"createdAt,omitempty"`
	Custom         map[string]string `json:"custom,omitempty"`
}

// FileInfo contains information about a stored object
type FileInfo struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum"`
	ContentType string    `json:"contentType,omitempty"`
	ModifiedAt  time.Time `json:"modifiedAt"`
	Metadata    *Metadata `json:"metadata,omitempty"`
}

// Storage is where generated artifacts such as mission reports are kept.
type Storage interface {
	Put(ctx context.Context, key string, content []byte, metadata *Metadata) error
	Get(ctx context.Context, key string) ([]byte, error)
	GetInfo(ctx context.Context, key string) (*FileInfo, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	// List returns all keys starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

type StorageType string

const (
	StorageTypeLocal StorageType = "local"
)

// New builds the backend named by typ.
func New(typ, basePath string) (Storage, error) {
	switch StorageType(typ) {
	case StorageTypeLocal, "":
		return NewLocalStorage(basePath)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

// BuildReportKey builds the key of a mission report workbook.
func BuildReportKey(organizationID, missionID string, at time.Time, reportID string) string {
	return fmt.Sprintf("reports/%s/%s/%s/%s.xlsx", organizationID, missionID, at.UTC().Format("2006-01-02"), reportID)
}
