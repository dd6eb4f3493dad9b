// Package todo defines the host tool's task list, which the relay reads as an
// implicit stream of delegation instructions.
package todo

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Status represents the lifecycle state of a task-list item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Item is one entry of the task list.
type Item struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	Status     Status `json:"status"`
	ActiveForm string `json:"activeForm,omitempty"`
}

// envelope is the object form of the task-list file.
type envelope struct {
	Todos []Item `json:"todos"`
}

// ParseList decodes the full task list. The file holds either a JSON array of
// items or an object with a "todos" array; an empty file is an empty list.
// Items without an id get a stable id derived from their content.
func ParseList(data []byte) ([]Item, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var items []Item
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("parse todo list: %w", err)
		}
	case '{':
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("parse todo list: %w", err)
		}
		items = env.Todos
	default:
		return nil, fmt.Errorf("parse todo list: unexpected leading %q", data[0])
	}

	for i := range items {
		items[i].ID = strings.TrimSpace(items[i].ID)
		if items[i].ID == "" {
			items[i].ID = ContentID(items[i].Content)
		}
	}
	return items, nil
}

// ContentID derives an item id from its content.
func ContentID(content string) string {
	sum := blake2b.Sum256([]byte(strings.TrimSpace(content)))
	return "content-" + hex.EncodeToString(sum[:8])
}

// UnmarshalJSON accepts both "activeForm" and "active_form".
func (it *Item) UnmarshalJSON(data []byte) error {
	type plain Item
	var aux struct {
		plain
		ActiveFormSnake string `json:"active_form"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*it = Item(aux.plain)
	if it.ActiveForm == "" {
		it.ActiveForm = aux.ActiveFormSnake
	}
	return nil
}
