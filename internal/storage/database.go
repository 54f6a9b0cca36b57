package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/fx-annotator/internal/rates"
	"github.com/zombor/fx-annotator/internal/settings"
)

const (
	settingsBucketName = "settings"
	ratesBucketName    = "rates"

	settingsKey = "current"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("not found")

// DB defines the interface for database operations
type DB interface {
	// GetSettings retrieves the saved user settings
	GetSettings() (settings.Settings, error)

	// SaveSettings saves the user settings
	SaveSettings(s settings.Settings) error

	// GetRates retrieves the cached rate table for a base currency
	GetRates(base string) (rates.Table, error)

	// SaveRates caches a rate table under its base currency
	SaveRates(t rates.Table) error

	// ClearRates removes every cached rate table
	ClearRates() error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{settingsBucketName, ratesBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// GetSettings retrieves the saved user settings. It returns an error wrapping
// settings.ErrNotFound before the first save.
func (b *BoltDB) GetSettings() (settings.Settings, error) {
	var s settings.Settings
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(settingsBucketName)).Get([]byte(settingsKey))
		if data == nil {
			return fmt.Errorf("%w: %w", settings.ErrNotFound, ErrNotFound)
		}
		return json.Unmarshal(data, &s)
	})
	if err != nil {
		return settings.Settings{}, err
	}
	return s, nil
}

// SaveSettings saves the user settings
func (b *BoltDB) SaveSettings(s settings.Settings) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshaling settings: %w", err)
		}
		return tx.Bucket([]byte(settingsBucketName)).Put([]byte(settingsKey), data)
	})
}

// GetRates retrieves the cached rate table for base
func (b *BoltDB) GetRates(base string) (rates.Table, error) {
	var t rates.Table
	key := rateKey(base)
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(ratesBucketName)).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("rates for %s: %w", key, ErrNotFound)
		}
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return rates.Table{}, err
	}
	return t, nil
}

// SaveRates caches t under its base currency
func (b *BoltDB) SaveRates(t rates.Table) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshaling rates: %w", err)
		}
		return tx.Bucket([]byte(ratesBucketName)).Put([]byte(rateKey(t.Base)), data)
	})
}

// ClearRates removes every cached rate table
func (b *BoltDB) ClearRates() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(ratesBucketName)); err != nil {
			return fmt.Errorf("deleting rates bucket: %w", err)
		}
		_, err := tx.CreateBucket([]byte(ratesBucketName))
		return err
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func rateKey(base string) string {
	return strings.ToUpper(base)
}
