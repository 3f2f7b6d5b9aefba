// Package postgres provides the default production PromptStore/FieldStore,
// both backed by the same pgxpool.Pool the reservation store uses. Neither
// the tenant package nor its Loader imports pgx directly; only this
// implementation package does.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rukataka0505/ailuna-call-engine/internal/tenant"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var (
	_ tenant.PromptStore = (*Store)(nil)
	_ tenant.FieldStore  = (*Store)(nil)
)

func (s *Store) GetPrompt(tenantID string) (tenant.Prompt, error) {
	var p tenant.Prompt
	var greeting *string
	err := s.pool.QueryRow(context.Background(),
		`SELECT system_prompt, config_metadata->>'greeting_message' FROM tenant_prompts WHERE tenant_id = $1`,
		tenantID).Scan(&p.SystemPrompt, &greeting)
	if err != nil {
		return tenant.Prompt{}, fmt.Errorf("tenant: get prompt: %w", err)
	}
	if greeting != nil {
		p.GreetingMessage = *greeting
	}
	return p, nil
}

func (s *Store) ListFields(tenantID string) ([]tenant.Field, error) {
	rows, err := s.pool.Query(context.Background(), `
		SELECT key, label, type, required, options, description, display_order, enabled
		FROM reservation_fields
		WHERE tenant_id = $1
		ORDER BY display_order
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("tenant: list fields: %w", err)
	}
	defer rows.Close()

	var fields []tenant.Field
	for rows.Next() {
		var f tenant.Field
		var fieldType string
		var options []string
		if err := rows.Scan(&f.Key, &f.Label, &fieldType, &f.Required, &options, &f.Description, &f.DisplayOrder, &f.Enabled); err != nil {
			return nil, fmt.Errorf("tenant: scan field: %w", err)
		}
		f.Type = tenant.FieldType(fieldType)
		f.Options = options
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tenant: rows: %w", err)
	}
	return fields, nil
}
