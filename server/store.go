package server

import (
	"context"
	"database/sql"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"odataview/tx"
)

// driverName 注册了 odata_* 自定义函数的 sqlite3 driver
const driverName = "sqlite3_odata"

var registerOnce sync.Once

func registerDriver() {
	registerOnce.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				for name, fn := range customFunc() {
					if err := conn.RegisterFunc(name, fn.impl, fn.pure); err != nil {
						return err
					}
				}
				return nil
			},
		})
	})
}

// SqliteStore 保存 entity set 的定义和数据，每条记录是一列 JSON
type SqliteStore struct {
	lock *sync.Mutex
	db   *sql.DB
}

func NewSqliteStore() (s *SqliteStore) {
	s = &SqliteStore{
		lock: &sync.Mutex{},
		db:   nil,
	}
	return
}

func (s *SqliteStore) Open(ctx context.Context, dbPath string) (err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	registerDriver()
	db, err := sql.Open(driverName, dbPath)
	if err != nil {
		return errors.Wrapf(err, "open %s", dbPath)
	}
	// :memory: 的每个连接都是独立的库
	db.SetMaxOpenConns(1)
	defer func() {
		if err != nil {
			db.Close()
		}
	}()
	wtx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			wtx.Rollback()
		} else {
			err = wtx.Commit()
		}
	}()

	// entity set 定义
	createEntitySetStmt := `CREATE TABLE IF NOT EXISTS entity_sets (
		set_name TEXT PRIMARY KEY,
		data_table TEXT NOT NULL,
		meta_info TEXT NOT NULL
	);`

	initStmt := []string{
		createEntitySetStmt,
	}
	for _, stmt := range initStmt {
		if _, err = wtx.ExecContext(ctx, stmt); err != nil {
			return
		}
	}
	s.db = db
	return
}

// DB操作
func (s *SqliteStore) ReadTx(ctx context.Context) (rtx tx.ReadTx, err error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		ReadOnly: true,
	})
	if err != nil {
		return
	}
	rtx = &sqliteReadTx{
		ctx: ctx,
		tx:  sqlTx,
	}
	return
}

func (s *SqliteStore) WriteTx(ctx context.Context) (wtx tx.WriteTx, err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	wtx = &sqliteWriteTx{
		sqliteReadTx{
			ctx: ctx,
			tx:  sqlTx,
		},
	}
	return
}

// 关闭数据库
func (s *SqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
