package remote

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

// OpenTurso connects to a hosted libSQL database.
//
// rawURL is the database URL (libsql://<name>.turso.io); authToken may be
// empty for databases that allow anonymous access.
func OpenTurso(rawURL, authToken string) (*SQLClient, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("remote url is required")
	}
	if !strings.HasPrefix(rawURL, "libsql://") &&
		!strings.HasPrefix(rawURL, "https://") &&
		!strings.HasPrefix(rawURL, "http://") {
		return nil, fmt.Errorf("unsupported remote url scheme in %q", rawURL)
	}

	dsn := rawURL
	if authToken != "" {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		dsn = rawURL + sep + "authToken=" + url.QueryEscape(authToken)
	}

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote database: %w", err)
	}
	return NewSQLClient(db), nil
}
