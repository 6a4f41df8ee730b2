package logic

import (
	"time"

	"github.com/pccr10001/jinglegw/internal/calling"
	"github.com/pccr10001/jinglegw/internal/model"
	"github.com/pccr10001/jinglegw/internal/repository"
	"github.com/pccr10001/jinglegw/pkg/logger"
)

// CallRecordService persists call history and fires webhooks when calls end.
// It implements calling.Recorder.
type CallRecordService struct {
	repo     *repository.CallRepository
	webhooks *WebhookService
}

func NewCallRecordService(repo *repository.CallRepository, webhooks *WebhookService) *CallRecordService {
	return &CallRecordService{repo: repo, webhooks: webhooks}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func recordFrom(info calling.CallInfo) *model.CallRecord {
	return &model.CallRecord{
		ID:          info.ID,
		Name:        info.Name,
		Profile:     info.Profile,
		Direction:   info.Direction,
		Remote:      info.Remote,
		Codec:       info.Codec,
		PayloadType: info.PayloadType,
		State:       info.State,
		Cause:       info.Cause,
		Error:       info.Error,
		StartedAt:   info.StartedAt,
		AnsweredAt:  timePtr(info.AnsweredAt),
		EndedAt:     timePtr(info.EndedAt),
	}
}

func (s *CallRecordService) save(info calling.CallInfo) *model.CallRecord {
	rec := recordFrom(info)
	if err := s.repo.Upsert(rec); err != nil {
		logger.Log.Errorf("[%s] Failed to save call record: %v", info.Name, err)
		return nil
	}
	return rec
}

func (s *CallRecordService) CallStarted(info calling.CallInfo) {
	s.save(info)
}

func (s *CallRecordService) CallAnswered(info calling.CallInfo) {
	s.save(info)
}

func (s *CallRecordService) CallEnded(info calling.CallInfo) {
	if info.EndedAt.IsZero() {
		info.EndedAt = time.Now()
	}
	rec := s.save(info)
	if rec != nil && s.webhooks != nil {
		s.webhooks.Dispatch(rec)
	}
}

var _ calling.Recorder = (*CallRecordService)(nil)
