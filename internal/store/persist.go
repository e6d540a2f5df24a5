package store

import (
	"database/sql"
	"fmt"
)

// SaveSnapshot writes the current project, conversation id and message log to
// the local cache database so a resumed project can render its last-known
// transcript before any network round-trip.
func (s *Store) SaveSnapshot(db *sql.DB) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	project := *s.current
	conversationID := s.conversationID
	messages := append([]Message(nil), s.messages...)
	s.mu.Unlock()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT OR REPLACE INTO projects (id, name, original_image_url, current_image_url, description) VALUES (?, ?, ?, ?, ?)",
		project.ID, project.Name, project.OriginalImageURL, project.CurrentImageURL, project.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}

	if conversationID != "" {
		_, err = tx.Exec(
			"INSERT OR REPLACE INTO conversations (id, project_id, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)",
			conversationID, project.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to save conversation: %w", err)
		}

		if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", conversationID); err != nil {
			return fmt.Errorf("failed to clear messages: %w", err)
		}

		for _, msg := range messages {
			_, err = tx.Exec(
				"INSERT INTO messages (id, conversation_id, role, content, image_url, timestamp) VALUES (?, ?, ?, ?, ?, ?)",
				msg.ID, conversationID, msg.Role, msg.Content, msg.ImageURL, msg.Timestamp,
			)
			if err != nil {
				s.logger.Warn("failed to save message", "error", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("snapshot saved", "project_id", project.ID, "message_count", len(messages))
	return nil
}

// LoadSnapshot reads the cached conversation for a project. Returns the
// conversation id and message log in stored order.
func LoadSnapshot(db *sql.DB, projectID string) (string, []Message, error) {
	var conversationID string
	err := db.QueryRow(
		"SELECT id FROM conversations WHERE project_id = ? ORDER BY updated_at DESC LIMIT 1",
		projectID,
	).Scan(&conversationID)
	if err == sql.ErrNoRows {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	rows, err := db.Query(
		"SELECT id, role, content, image_url, timestamp FROM messages WHERE conversation_id = ? ORDER BY rowid",
		conversationID,
	)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &msg.ImageURL, &msg.Timestamp); err != nil {
			return "", nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return "", nil, fmt.Errorf("failed to read messages: %w", err)
	}

	return conversationID, messages, nil
}
