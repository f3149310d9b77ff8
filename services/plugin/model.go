package plugin

import (
	"time"

	"octopus-controlplane/pkg/api"
)

// Artifact is the manifest row of a published plugin. The bytes live in a
// BlobStore under ObjectKey.
type Artifact struct {
	Name         string    `gorm:"column:name;primaryKey;type:varchar(128)" json:"name"`
	ContentHash  string    `gorm:"column:content_hash;type:char(64);not null" json:"content_hash"`
	ByteSize     int64     `gorm:"column:byte_size;not null" json:"byte_size"`
	LastModified time.Time `gorm:"column:last_modified;not null" json:"last_modified"`
	ObjectKey    string    `gorm:"column:object_key;type:varchar(255);not null" json:"-"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Artifact) TableName() string { return "plugin_artifacts" }

func (a *Artifact) Entry() api.PluginEntry {
	return api.PluginEntry{
		Name:         a.Name,
		ContentHash:  a.ContentHash,
		ByteSize:     a.ByteSize,
		LastModified: a.LastModified,
	}
}

func objectKey(name, hash string) string {
	return name + "/" + hash
}
