package leaderboard

import (
	"context"
	"database/sql"
)

// Postgres PostgreSQL 存儲實現（V2 架構）
//
// 系統設計考量：
//
//  1. 表結構設計：
//     - name：主鍵（已正規化的玩家名稱）
//     - wins：勝場計數
//
//  2. 併發控制：
//     - INSERT ... ON CONFLICT DO UPDATE：單條語句完成 upsert，
//       由資料庫保證原子性，無需應用層加鎖或事務
//
// 表結構 SQL：
//
//	CREATE TABLE names (
//	  name VARCHAR(255) PRIMARY KEY,
//	  wins INTEGER NOT NULL DEFAULT 0
//	);
type Postgres struct {
	db *sql.DB
}

// NewPostgres 創建 PostgreSQL 存儲實例
//
// 參數：
//   - db：資料庫連接（由調用方管理生命週期與連接池配置）
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// RecordWin 為 name 勝場 +1（原子 upsert）
func (p *Postgres) RecordWin(ctx context.Context, name string) error {
	query := `
		INSERT INTO names (name, wins)
		VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET wins = names.wins + 1
	`

	_, err := p.db.ExecContext(ctx, query, name)
	return err
}

// TopN 按勝場降序回傳前 n 名
func (p *Postgres) TopN(ctx context.Context, n int) ([]Entry, error) {
	query := `
		SELECT name, wins
		FROM names
		ORDER BY wins DESC, name ASC
		LIMIT $1
	`

	rows, err := p.db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.Wins); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
