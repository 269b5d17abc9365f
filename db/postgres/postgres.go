package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"time"

	"github.com/ensclub/ens-verify/db"
	log "github.com/inconshreveable/log15"
	_ "github.com/lib/pq"
)

const (
	initQuery               = "init.sql"
	putNonceQuery           = "putNonce.sql"
	takeNonceQuery          = "takeNonce.sql"
	clearExpiredNoncesQuery = "clearExpiredNonces.sql"
)

type store struct {
	db      *sql.DB
	queries map[string]string
}

// NewStore blocks until the database is reachable and the schema is initialized.
func NewStore(connStr string, scriptsDirPath string) db.NonceStore {
	sqlDb, err := sql.Open("postgres", connStr)
	if err != nil {
		panic(err)
	}
	s := &store{
		db:      sqlDb,
		queries: readQueries(scriptsDirPath),
	}
	for {
		if err := s.init(); err != nil {
			log.Error(fmt.Sprintf("Unable to initialize postgres connection: %v", err))
			time.Sleep(time.Second * 10)
			continue
		}
		break
	}
	return s
}

func readQueries(scriptsDirPath string) map[string]string {
	files, err := ioutil.ReadDir(scriptsDirPath)
	if err != nil {
		panic(err)
	}
	queries := make(map[string]string)
	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}
		bytes, err := ioutil.ReadFile(filepath.Join(scriptsDirPath, file.Name()))
		if err != nil {
			panic(err)
		}
		queries[file.Name()] = string(bytes)
		log.Debug(fmt.Sprintf("Read query %s from %s", file.Name(), scriptsDirPath))
	}
	return queries
}

func (s *store) init() error {
	if err := s.db.Ping(); err != nil {
		return err
	}
	if _, err := s.db.Exec(s.getQuery(initQuery)); err != nil {
		return err
	}
	return nil
}

func (s *store) getQuery(name string) string {
	if query, present := s.queries[name]; present {
		return query
	}
	panic(fmt.Sprintf("There is no query '%s'", name))
}

func (s *store) Put(ctx context.Context, token string, issuedAt time.Time, _ time.Duration) error {
	res, err := s.db.ExecContext(ctx, s.getQuery(putNonceQuery), token, issuedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return db.ErrDuplicateToken
	}
	return nil
}

func (s *store) Take(ctx context.Context, token string) (time.Time, bool, error) {
	var issuedAt time.Time
	err := s.db.QueryRowContext(ctx, s.getQuery(takeNonceQuery), token).Scan(&issuedAt)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return issuedAt, true, nil
}

func (s *store) ClearExpired(ctx context.Context, issuedBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.getQuery(clearExpiredNoncesQuery), issuedBefore)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
