// Package storage persists completed duel results to Postgres. Sessions
// hand over a final-state snapshot; nothing here ever holds a reference
// into live engine state.
package storage

import (
	"context"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/skillversus/duel-backend/internal/engine"
)

type DuelResult struct {
	ID          uint   `gorm:"primaryKey"`
	RoomCode    string `gorm:"size:6;index"`
	DuelType    string `gorm:"size:16"`
	Reason      string `gorm:"size:32"`
	WinnerID    string `gorm:"size:64;index"`
	Draw        bool
	StartedAt   time.Time
	CompletedAt time.Time
	CreatedAt   time.Time

	Participants []DuelParticipant `gorm:"foreignKey:DuelResultID"`
}

type DuelParticipant struct {
	ID           uint   `gorm:"primaryKey"`
	DuelResultID uint   `gorm:"index"`
	UserID       string `gorm:"size:64;index"`
	Won          bool
	WordIndex    int
	WPM          float64
	Accuracy     float64
	TestsPassed  int
	TestsTotal   int
	Violations   int
}

type Repo struct {
	db *gorm.DB
}

func Open(dsn string) (*Repo, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&DuelResult{}, &DuelParticipant{}); err != nil {
		return nil, err
	}
	return &Repo{db: db}, nil
}

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

// RecordResult implements session.ResultSink.
func (r *Repo) RecordResult(ctx context.Context, final engine.State) error {
	res := DuelResult{
		RoomCode:    final.RoomCode,
		DuelType:    string(final.Type),
		Reason:      string(final.Reason),
		WinnerID:    final.WinnerID,
		Draw:        final.Draw,
		StartedAt:   final.StartedAt,
		CompletedAt: final.CompletedAt,
	}
	for _, p := range final.Participants {
		res.Participants = append(res.Participants, DuelParticipant{
			UserID:      p.UserID,
			Won:         p.UserID == final.WinnerID,
			WordIndex:   p.Typing.CurrentWordIndex,
			WPM:         p.Typing.WPM,
			Accuracy:    p.Typing.Accuracy,
			TestsPassed: p.Coding.TestsPassed,
			TestsTotal:  p.Coding.TestsTotal,
			Violations:  len(p.Violations),
		})
	}
	return r.db.WithContext(ctx).Create(&res).Error
}

// RecentResults lists the latest completed duels, newest first.
func (r *Repo) RecentResults(ctx context.Context, limit int) ([]DuelResult, error) {
	var out []DuelResult
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Order("completed_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ViolationCount totals recorded violations for a user across duels, for
// post-hoc moderation.
func (r *Repo) ViolationCount(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&DuelParticipant{}).
		Where("user_id = ?", userID).
		Select("coalesce(sum(violations), 0)").
		Scan(&total).Error
	return total, err
}
