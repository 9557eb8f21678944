package app

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/db"
)

// DSNInfo is a password-free description of a database DSN.
type DSNInfo struct {
	Type        string
	Host        string
	Port        int
	User        string
	Name        string
	SSLMode     string
	Path        string
	PasswordSet bool
}

// String renders the description for logs.
func (i DSNInfo) String() string {
	if i.Type == "sqlite" {
		return "sqlite path=" + i.Path
	}
	return fmt.Sprintf("postgres host=%s port=%d user=%s db=%s sslmode=%s password_set=%t",
		i.Host, i.Port, i.User, i.Name, i.SSLMode, i.PasswordSet)
}

// DescribeDSN parses a SQLite file: DSN or a postgres URL without exposing the password.
func DescribeDSN(dsn string) (DSNInfo, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return DSNInfo{}, fmt.Errorf("empty dsn")
	}

	if db.IsSQLiteDSN(trimmed) {
		pathPart := strings.TrimPrefix(trimmed, "file:")
		pathPart, _, _ = strings.Cut(pathPart, "?")
		return DSNInfo{Type: "sqlite", Path: strings.TrimSpace(pathPart)}, nil
	}

	u, errParse := url.Parse(trimmed)
	if errParse != nil {
		return DSNInfo{}, fmt.Errorf("parse dsn: %w", errParse)
	}

	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "postgres", "postgresql":
		port := 5432
		if rawPort := strings.TrimSpace(u.Port()); rawPort != "" {
			parsedPort, errPort := strconv.Atoi(rawPort)
			if errPort != nil {
				return DSNInfo{}, fmt.Errorf("parse port: %w", errPort)
			}
			port = parsedPort
		}

		info := DSNInfo{
			Type:    "postgres",
			Host:    strings.TrimSpace(u.Hostname()),
			Port:    port,
			Name:    strings.TrimSpace(strings.TrimPrefix(u.Path, "/")),
			SSLMode: strings.TrimSpace(u.Query().Get("sslmode")),
		}
		if u.User != nil {
			info.User = strings.TrimSpace(u.User.Username())
			_, info.PasswordSet = u.User.Password()
		}
		if info.SSLMode == "" {
			info.SSLMode = "disable"
		}
		return info, nil
	default:
		return DSNInfo{}, fmt.Errorf("unsupported dsn scheme %q", u.Scheme)
	}
}
