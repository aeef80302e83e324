package repo

import (
	"context"
	"database/sql"
	"time"
)

// ListAdmins returns the actor ids allowed to run admin commands.
func (r Repo) ListAdmins(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT actor_id FROM admins ORDER BY actor_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// syncAdmins makes the admins table match ids, keeping the original grant
// time of actors that stay.
func (r Repo) syncAdmins(ctx context.Context, tx *sql.Tx, ids []string) error {
	keep := make(map[string]struct{}, len(ids))
	now := r.now().UTC().Format(time.RFC3339)
	for _, id := range ids {
		keep[id] = struct{}{}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO admins(actor_id, granted_at) VALUES (?,?)`, id, now); err != nil {
			return err
		}
	}
	rows, err := tx.QueryContext(ctx, `SELECT actor_id FROM admins`)
	if err != nil {
		return err
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM admins WHERE actor_id=?`, id); err != nil {
			return err
		}
	}
	return nil
}
