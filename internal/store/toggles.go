// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// GetToggle reads a feature toggle. found is false when the toggle has
// never been set; callers decide the default.
func (s *Store) GetToggle(ctx context.Context, name string) (enabled, found bool, err error) {
	err = s.db.QueryRow(ctx, `
		SELECT enabled FROM feature_toggles WHERE name = $1
	`, name).Scan(&enabled)
	if err == pgx.ErrNoRows {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return enabled, true, nil
}

// SetToggle creates or updates a feature toggle.
func (s *Store) SetToggle(ctx context.Context, name string, enabled bool) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO feature_toggles (name, enabled, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = NOW()
	`, name, enabled)
	return err
}
