package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nexhearth/mimirgo/internal/models"
)

// maxRecalledMemories caps how many memories a single recall returns to
// the LLM, matching the original implementation's own cap.
const maxRecalledMemories = 20

// AddMemory stores one durable fact and returns its id.
func (s *Store) AddMemory(ctx context.Context, content string, category models.MemoryCategory) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO memories (content, category) VALUES (?, ?)`, content, string(category))
	if err != nil {
		return 0, fmt.Errorf("audit: storing memory: %w", err)
	}
	return res.LastInsertId()
}

// SearchMemories returns memories whose content contains query, newest
// first.
func (s *Store) SearchMemories(ctx context.Context, query string) ([]models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, category, created_at FROM memories
		WHERE content LIKE ? ORDER BY created_at DESC`, "%"+query+"%")
	if err != nil {
		return nil, fmt.Errorf("audit: searching memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// GetMemoriesByCategory returns every memory in one category, newest
// first.
func (s *Store) GetMemoriesByCategory(ctx context.Context, category models.MemoryCategory) ([]models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, category, created_at FROM memories
		WHERE category = ? ORDER BY created_at DESC`, string(category))
	if err != nil {
		return nil, fmt.Errorf("audit: fetching memories by category: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// GetAllMemories returns every stored memory, newest first.
func (s *Store) GetAllMemories(ctx context.Context) ([]models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content, category, created_at FROM memories ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("audit: fetching all memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// DeleteMemory removes one memory by id, reporting whether it existed.
func (s *Store) DeleteMemory(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("audit: deleting memory %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Summary renders a short prose digest of stored memories for the system
// prompt, satisfying conversation.MemoryStore. It caps at
// maxRecalledMemories entries to keep the prompt bounded, same as a
// recall-all tool call would.
func (s *Store) Summary(ctx context.Context) (string, error) {
	memories, err := s.GetAllMemories(ctx)
	if err != nil {
		return "", err
	}
	if len(memories) == 0 {
		return "", nil
	}
	if len(memories) > maxRecalledMemories {
		memories = memories[:maxRecalledMemories]
	}

	var b strings.Builder
	for _, m := range memories {
		fmt.Fprintf(&b, "- [%s] %s\n", m.Category, m.Content)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func scanMemories(rows *sql.Rows) ([]models.Memory, error) {
	var memories []models.Memory
	for rows.Next() {
		var m models.Memory
		var category string
		if err := rows.Scan(&m.ID, &m.Content, &category, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scanning memory row: %w", err)
		}
		m.Category = models.MemoryCategory(category)
		memories = append(memories, m)
	}
	return memories, rows.Err()
}
