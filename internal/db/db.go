package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"golang.org/x/crypto/bcrypt"
)

// User is a dashboard/app account. Stream playback itself is gated by stream
// tokens and activation codes, not user records.
type User struct {
	ID        string
	Email     string
	Username  string
	Role      string
	CreatedAt time.Time

	passwordHash string
}

func EnsureKeyspace(session *gocql.Session, keyspace string, replicationFactor int) error {
	if replicationFactor <= 0 {
		replicationFactor = 3
	}
	stmt := fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}", keyspace, replicationFactor)
	return session.Query(stmt).Exec()
}

// EnsureSchema creates the user and activation tables. Activation appends
// rely on the device_count column for conditional updates, so it lives next
// to the devices list rather than being derived.
func EnsureSchema(session *gocql.Session, keyspace string) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.users (
			id uuid PRIMARY KEY,
			email text,
			username text,
			password_hash text,
			role text,
			created_at timestamp
		)`, keyspace),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS users_email_idx ON %s.users (email)`, keyspace),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.activation_codes (
			code text PRIMARY KEY,
			is_active boolean,
			max_devices int,
			device_count int,
			devices list<text>,
			expires_at timestamp,
			notes text,
			created_at timestamp
		)`, keyspace),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.activation_devices (
			device_id text PRIMARY KEY,
			code text
		)`, keyspace),
	}
	for _, stmt := range stmts {
		if err := session.Query(stmt).Exec(); err != nil {
			return err
		}
	}
	return nil
}

func normalizeUsername(email, username string) string {
	name := strings.TrimSpace(username)
	if name != "" {
		return name
	}
	clean := strings.TrimSpace(email)
	if clean != "" {
		if at := strings.Index(clean, "@"); at > 0 {
			return clean[:at]
		}
		return clean
	}
	return "user"
}

// EnsureAdmin creates the bootstrap admin account if it does not exist.
func EnsureAdmin(ctx context.Context, session *gocql.Session, keyspace, email, password string) error {
	var existing string
	err := session.Query(fmt.Sprintf("SELECT id FROM %s.users WHERE email=? LIMIT 1", keyspace), email).WithContext(ctx).Scan(&existing)
	if err == nil && existing != "" {
		return nil
	}
	if err != nil && !errors.Is(err, gocql.ErrNotFound) {
		return err
	}
	return CreateUser(ctx, session, keyspace, email, "", password, "admin")
}

func CreateUser(ctx context.Context, session *gocql.Session, keyspace, email, username, password, role string) error {
	id := gocql.TimeUUID()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return session.Query(fmt.Sprintf(`INSERT INTO %s.users (id,email,username,password_hash,role,created_at)
		VALUES (?,?,?,?,?,?)`, keyspace),
		id, email, normalizeUsername(email, username), string(hash), role, time.Now()).WithContext(ctx).Exec()
}

func Authenticate(ctx context.Context, session *gocql.Session, keyspace, email, password string) (User, error) {
	var u User
	err := session.Query(fmt.Sprintf(`SELECT id,email,username,password_hash,role FROM %s.users WHERE email=? LIMIT 1`, keyspace), email).
		WithContext(ctx).
		Scan(&u.ID, &u.Email, &u.Username, &u.passwordHash, &u.Role)
	if err != nil {
		return User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.passwordHash), []byte(password)) != nil {
		return User{}, errors.New("invalid credentials")
	}
	if u.Username == "" {
		u.Username = normalizeUsername(u.Email, "")
	}
	return u, nil
}

func ListUsers(ctx context.Context, session *gocql.Session, keyspace string) ([]User, error) {
	var users []User
	iter := session.Query(fmt.Sprintf(`SELECT id,email,username,role,created_at FROM %s.users`, keyspace)).
		WithContext(ctx).Iter()
	var u User
	for iter.Scan(&u.ID, &u.Email, &u.Username, &u.Role, &u.CreatedAt) {
		if u.Username == "" {
			u.Username = normalizeUsername(u.Email, "")
		}
		users = append(users, u)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return users, nil
}
