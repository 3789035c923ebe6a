package runtime

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/spinloop/config"
)

// ErrPostgresNotConfigured means neither storage.postgres.url nor host is set.
var ErrPostgresNotConfigured = errors.New("postgres not configured (storage.postgres.url or host/dbname)")

// BuildPostgresDSN returns p.URL when set, otherwise a postgres:// URL built
// from the discrete fields with credentials escaped. A positive Timeout
// becomes connect_timeout in whole seconds.
func BuildPostgresDSN(p config.PostgresConfig) (string, error) {
	if !p.Configured() {
		return "", ErrPostgresNotConfigured
	}
	if u := strings.TrimSpace(p.URL); u != "" {
		return u, nil
	}
	if strings.TrimSpace(p.DBName) == "" {
		return "", fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	q := url.Values{}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	q.Set("sslmode", ssl)
	if secs := int(p.Timeout.Seconds()); secs > 0 {
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(p.Host, port),
		Path:     "/" + p.DBName,
		RawQuery: q.Encode(),
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	return u.String(), nil
}
