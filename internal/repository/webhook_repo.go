package repository

import (
	"github.com/pccr10001/jinglegw/internal/model"
	"gorm.io/gorm"
)

type WebhookRepository struct {
	db *gorm.DB
}

func NewWebhookRepository(db *gorm.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

func (r *WebhookRepository) Create(webhook *model.Webhook) error {
	return r.db.Create(webhook).Error
}

// FindByProfile returns the enabled webhooks for a profile, including the
// ones registered for every profile.
func (r *WebhookRepository) FindByProfile(profile string) ([]model.Webhook, error) {
	var list []model.Webhook
	err := r.db.Where("profile IN ? AND enabled = ?", []string{profile, "*"}, true).Find(&list).Error
	return list, err
}

func (r *WebhookRepository) List(profile string) ([]model.Webhook, error) {
	var list []model.Webhook
	q := r.db.Order("id")
	if profile != "" {
		q = q.Where("profile = ?", profile)
	}
	err := q.Find(&list).Error
	return list, err
}

func (r *WebhookRepository) Delete(id uint) error {
	return r.db.Delete(&model.Webhook{}, id).Error
}
