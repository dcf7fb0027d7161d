package store

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// GetPgpassPath returns the path to the .pgpass file
// Priority: 1) configured path, 2) /config/.pgpass (container), 3) ~/.pgpass
func GetPgpassPath(configPath string) (string, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
		return "", fmt.Errorf("configured pgpass file not found: %s", configPath)
	}

	dockerPath := "/config/.pgpass"
	if _, err := os.Stat(dockerPath); err == nil {
		return dockerPath, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	standardPath := filepath.Join(homeDir, ".pgpass")
	if _, err := os.Stat(standardPath); err == nil {
		return standardPath, nil
	}

	return "", fmt.Errorf("no .pgpass file found (tried: %s, %s)", dockerPath, standardPath)
}

// ValidatePgpassPermissions checks that .pgpass has correct permissions (0600)
func ValidatePgpassPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat .pgpass file: %w", err)
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		return fmt.Errorf(".pgpass file has incorrect permissions %o, must be 0600 (readable/writable by owner only)", mode)
	}

	return nil
}

// LookupPgpass returns the password of the first .pgpass entry matching the
// connection. Fields may be "*"; "\:" and "\\" are unescaped.
func LookupPgpass(pgpassPath, host, port, database, username string) (string, bool, error) {
	file, err := os.Open(pgpassPath)
	if err != nil {
		return "", false, fmt.Errorf("failed to open .pgpass file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// hostname:port:database:username:password
		parts := splitPgpassLine(line)
		if len(parts) != 5 {
			continue
		}

		if matchField(parts[0], host) &&
			matchField(parts[1], port) &&
			matchField(parts[2], database) &&
			matchField(parts[3], username) {
			return parts[4], true, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return "", false, fmt.Errorf("error reading .pgpass file: %w", err)
	}

	return "", false, nil
}

func splitPgpassLine(line string) []string {
	var parts []string
	var cur strings.Builder
	escaped := false
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ':':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(parts, cur.String())
}

// matchField checks if a pattern matches a value (supports * wildcard)
func matchField(pattern, value string) bool {
	return pattern == "*" || pattern == value
}

// ResolveDSN fills in the password of a postgres:// URL from .pgpass when
// the URL carries none. Other DSN forms are returned unchanged.
func ResolveDSN(dsn, pgpassFile string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") || u.User == nil {
		return dsn, nil
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		return dsn, nil
	}

	pgpassPath, err := GetPgpassPath(pgpassFile)
	if err != nil {
		if pgpassFile != "" {
			return "", err
		}
		return dsn, nil
	}
	if err := ValidatePgpassPermissions(pgpassPath); err != nil {
		return "", err
	}

	port := u.Port()
	if port == "" {
		port = "5432"
	}
	database := strings.TrimPrefix(u.Path, "/")
	username := u.User.Username()

	password, found, err := LookupPgpass(pgpassPath, u.Hostname(), port, database, username)
	if err != nil {
		return "", err
	}
	if !found {
		return dsn, nil
	}

	u.User = url.UserPassword(username, password)
	return u.String(), nil
}
