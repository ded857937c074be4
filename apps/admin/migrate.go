package main

import (
	"database/sql"

	"github.com/pressly/goose/v3"

	appfs "github.com/simplemooc/simplemooc/fs"
)

var gooseRunFunc = goose.Run // mockable

func (cli *commandLine) migrate(args []string) error {
	goose.SetBaseFS(appfs.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return cli.runGoose(cli.db, args)
}

func (cli *commandLine) runGoose(db *sql.DB, args []string) error {
	arguments := make([]string, 0)
	if len(args) > 1 {
		arguments = append(arguments, args[1:]...)
	}
	return gooseRunFunc(args[0], db, "migrations", arguments...)
}
