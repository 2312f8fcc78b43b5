package repo

import (
	"encoding/json"
	"time"

	"hotspotd/internal/models"

	"gorm.io/gorm"
)

type RouterStore struct {
	db *gorm.DB
}

func NewRouterStore(db *gorm.DB) *RouterStore {
	return &RouterStore{db: db}
}

func (s *RouterStore) Create(r *models.Router) error {
	if r.Port == 0 {
		r.Port = 8728
	}
	if r.ConnectionType == "" {
		r.ConnectionType = models.ConnectAuto
	}
	return s.db.Create(r).Error
}

func (s *RouterStore) Get(id uint) (*models.Router, error) {
	var m models.Router
	if err := s.db.First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *RouterStore) List() ([]models.Router, error) {
	var out []models.Router
	return out, s.db.Order("id").Find(&out).Error
}

func (s *RouterStore) Delete(id uint) error {
	return s.db.Delete(&models.Router{}, id).Error
}

// MarkOnline — результат удачной проверки связи: статус, identity, отметка времени.
func (s *RouterStore) MarkOnline(id uint, identity map[string]string) error {
	now := time.Now()
	raw, _ := json.Marshal(identity)
	return s.db.Model(&models.Router{}).Where("id = ?", id).Updates(map[string]any{
		"status":        "online",
		"last_identity": raw,
		"last_seen_at":  &now,
		"last_error":    "",
	}).Error
}

// MarkOffline — связи нет; причину храним для UI.
func (s *RouterStore) MarkOffline(id uint, reason string) error {
	return s.db.Model(&models.Router{}).Where("id = ?", id).Updates(map[string]any{
		"status":     "offline",
		"last_error": reason,
	}).Error
}
