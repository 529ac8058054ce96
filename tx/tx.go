package tx

import "database/sql"

type ReadTx interface {
	Query(stmt string, argList ...any) (*sql.Rows, error)
	QueryRow(stmt string, argList ...any) *sql.Row
	Commit() error
	Rollback() error
}

type WriteTx interface {
	ReadTx
	Exec(stmt string, argList ...any) (sql.Result, error)
}

// Finish 根据 err 决定提交还是回滚
func Finish(tx ReadTx, err *error) {
	if *err != nil {
		tx.Rollback()
		return
	}
	*err = tx.Commit()
}
