package cache

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"k8s.io/klog/v2"

	"auto_content_pipeline/depth"
)

// DraftEntry is the SQL row of one cached draft.
type DraftEntry struct {
	Fingerprint string `gorm:"primaryKey;size:255"`
	Content     string `gorm:"type:text;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DBCache keeps drafts in a gorm-managed table.
type DBCache struct {
	db *gorm.DB
}

func NewDBCache(db *gorm.DB) (*DBCache, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if err := db.AutoMigrate(&DraftEntry{}); err != nil {
		return nil, err
	}
	return &DBCache{db: db}, nil
}

func (c *DBCache) Lookup(fp depth.Fingerprint) (string, bool) {
	var e DraftEntry
	err := c.db.Where("fingerprint = ?", string(fp)).First(&e).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			klog.Warningf("[cache] lookup %s: %v; treating as miss", fp, err)
		}
		return "", false
	}
	return e.Content, true
}

// Store upserts the whole row in one statement.
func (c *DBCache) Store(fp depth.Fingerprint, content string) error {
	e := DraftEntry{Fingerprint: string(fp), Content: content}
	return c.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fingerprint"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
	}).Create(&e).Error
}

// Purge deletes the entries of stage, or of one unit of it when unit is set.
// LIKE only narrows the candidates; the exact subject match happens in Go.
func (c *DBCache) Purge(stage, unit string) (int, error) {
	var fps []string
	prefix := likeEscaper.Replace(depth.Slug(stage)+"-") + "%"
	if err := c.db.Model(&DraftEntry{}).Where(`fingerprint LIKE ? ESCAPE '\'`, prefix).Pluck("fingerprint", &fps).Error; err != nil {
		return 0, err
	}
	var doomed []string
	for _, fp := range fps {
		if depth.Fingerprint(fp).BelongsTo(stage, unit) {
			doomed = append(doomed, fp)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	res := c.db.Where("fingerprint IN ?", doomed).Delete(&DraftEntry{})
	return int(res.RowsAffected), res.Error
}

// 指纹里的 "_" 在 LIKE 中是通配符，需要转义
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
