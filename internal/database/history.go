package database

import (
	"encoding/json"
	"fmt"
)

// HistorySlot holds the recent search queries as a JSON array of strings
const HistorySlot = "searchHistory"

// LoadHistory returns the persisted search history, or nil if none was saved
func (db *Database) LoadHistory() ([]string, error) {
	raw, ok, err := db.GetSlot(HistorySlot)
	if err != nil || !ok {
		return nil, err
	}

	var history []string
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("corrupt %s slot: %w", HistorySlot, err)
	}
	return history, nil
}

// SaveHistory replaces the persisted search history
func (db *Database) SaveHistory(history []string) error {
	if history == nil {
		history = []string{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return err
	}
	return db.SetSlot(HistorySlot, string(data))
}

// ClearHistory deletes the persisted search history
func (db *Database) ClearHistory() error {
	return db.DeleteSlot(HistorySlot)
}
