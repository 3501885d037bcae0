package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"gorm.io/gorm/clause"

	"github.com/gmsas95/carewatch/internal/models"
	"github.com/gmsas95/carewatch/internal/reminder"
)

// SQLBuckets keeps reminder fired-state in SQLite. The bucket key is the
// primary key, so concurrent claims of one bucket cannot both succeed.
type SQLBuckets struct {
	store *Store
}

// SQLBuckets returns the SQLite-backed reminder store
func (s *Store) SQLBuckets() *SQLBuckets {
	return &SQLBuckets{store: s}
}

func (b *SQLBuckets) Claim(ctx context.Context, bucket models.ReminderBucket, outcome reminder.Outcome, at time.Time) (bool, error) {
	row := models.FiredReminder{
		Key:           bucket.Key(),
		AppointmentID: bucket.AppointmentID,
		Threshold:     bucket.ThresholdMinutes,
		Outcome:       string(outcome),
		FiredAt:       at,
	}
	res := b.store.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (b *SQLBuckets) Release(ctx context.Context, bucket models.ReminderBucket) error {
	return b.store.db.WithContext(ctx).Delete(&models.FiredReminder{Key: bucket.Key()}).Error
}

// Fired returns the claimed buckets of one appointment
func (b *SQLBuckets) Fired(ctx context.Context, appointmentID int64) ([]models.FiredReminder, error) {
	var out []models.FiredReminder
	err := b.store.db.WithContext(ctx).
		Where("appointment_id = ?", appointmentID).
		Order("threshold DESC").
		Find(&out).Error
	return out, err
}

// BadgerBuckets keeps reminder fired-state in Badger. Entries expire after
// ttl, which only needs to outlive the largest reminder threshold.
type BadgerBuckets struct {
	store *Store
	ttl   time.Duration
}

// BadgerBuckets returns the Badger-backed reminder store
func (s *Store) BadgerBuckets(ttl time.Duration) *BadgerBuckets {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &BadgerBuckets{store: s, ttl: ttl}
}

func (b *BadgerBuckets) Claim(ctx context.Context, bucket models.ReminderBucket, outcome reminder.Outcome, at time.Time) (bool, error) {
	key := []byte("fired:" + bucket.Key())
	value, err := json.Marshal(models.FiredReminder{
		Key:           bucket.Key(),
		AppointmentID: bucket.AppointmentID,
		Threshold:     bucket.ThresholdMinutes,
		Outcome:       string(outcome),
		FiredAt:       at,
	})
	if err != nil {
		return false, err
	}

	claimed := false
	err = b.store.badger.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.SetEntry(badger.NewEntry(key, value).WithTTL(b.ttl)); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

func (b *BadgerBuckets) Release(ctx context.Context, bucket models.ReminderBucket) error {
	return b.store.badger.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte("fired:" + bucket.Key()))
	})
}

// Fired returns the claimed bucket, if any
func (b *BadgerBuckets) Fired(bucket models.ReminderBucket) (models.FiredReminder, bool, error) {
	var fr models.FiredReminder
	err := b.store.badger.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("fired:" + bucket.Key()))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &fr)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fr, false, nil
	}
	if err != nil {
		return fr, false, err
	}
	return fr, true, nil
}
