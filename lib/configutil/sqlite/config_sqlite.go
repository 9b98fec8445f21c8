package configsqlite

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Struct is the database block of a service config. A bare file path
// opens an embedded sqlite database; a url opens a remote libsql one.
type Struct struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

func (config Struct) OpenDB(schema string) (*sql.DB, error) {
	var database *sql.DB
	var err error

	if config.Url == "" {
		path := config.File
		if path == "" {
			path = ":memory:"
		}
		database, err = sql.Open("sqlite", path)
	} else {
		dsn := config.Url
		if config.AuthToken != "" {
			dsn = fmt.Sprintf("%s?authToken=%s", config.Url, config.AuthToken)
		}
		database, err = sql.Open("libsql", dsn)
	}
	if err != nil {
		return nil, err
	}

	_, err = database.Exec(schema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		database.Close()
		return nil, err
	}
	return database, nil
}
