package repository

import (
	"github.com/pccr10001/jinglegw/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CallRepository struct {
	db *gorm.DB
}

func NewCallRepository(db *gorm.DB) *CallRepository {
	return &CallRepository{db: db}
}

// Upsert inserts the record or refreshes the fields that change over a call.
func (r *CallRepository) Upsert(rec *model.CallRecord) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"remote", "codec", "payload_type", "state", "cause", "error", "answered_at", "ended_at", "updated_at"}),
	}).Create(rec).Error
}

func (r *CallRepository) FindByID(id string) (*model.CallRecord, error) {
	var rec model.CallRecord
	err := r.db.First(&rec, "id = ?", id).Error
	return &rec, err
}

// CallFilter narrows List. Empty fields match everything.
type CallFilter struct {
	Profiles []string
	Remote   string
	Limit    int
	Offset   int
}

func (r *CallRepository) List(f CallFilter) ([]model.CallRecord, int64, error) {
	q := r.db.Model(&model.CallRecord{})
	if f.Profiles != nil {
		if len(f.Profiles) == 0 {
			q = q.Where("1 = 0")
		} else {
			q = q.Where("profile IN ?", f.Profiles)
		}
	}
	if f.Remote != "" {
		q = q.Where("remote LIKE ?", "%"+f.Remote+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var list []model.CallRecord
	err := q.Order("started_at desc").Limit(limit).Offset(f.Offset).Find(&list).Error
	return list, total, err
}

// MarkAbandoned closes records left open by a previous process.
func (r *CallRepository) MarkAbandoned() (int64, error) {
	res := r.db.Model(&model.CallRecord{}).
		Where("ended_at IS NULL").
		Updates(map[string]interface{}{"state": "closed", "cause": "CRASH"})
	return res.RowsAffected, res.Error
}
