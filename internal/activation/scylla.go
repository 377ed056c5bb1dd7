package activation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"
)

// ScyllaStore persists activation codes in Scylla. Devices are kept as a
// JSON-encoded list alongside a device_count column; appends go through a
// lightweight transaction conditioned on that count, which is what makes
// concurrent activations near the limit safe. A device_id -> code index
// table serves status lookups.
type ScyllaStore struct {
	session  *gocql.Session
	keyspace string
}

func NewScyllaStore(session *gocql.Session, keyspace string) *ScyllaStore {
	return &ScyllaStore{session: session, keyspace: keyspace}
}

func (s *ScyllaStore) GetByCode(ctx context.Context, code string) (*Code, error) {
	var (
		c         Code
		rawDevs   []string
		expiresAt time.Time
	)
	err := s.session.Query(fmt.Sprintf(
		`SELECT code,is_active,max_devices,devices,expires_at,notes,created_at FROM %s.activation_codes WHERE code=?`, s.keyspace),
		code).WithContext(ctx).
		Scan(&c.Code, &c.IsActive, &c.MaxDevices, &rawDevs, &expiresAt, &c.Notes, &c.CreatedAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !expiresAt.IsZero() {
		c.ExpiresAt = &expiresAt
	}
	for _, raw := range rawDevs {
		var d Device
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("decode device on %s: %w", code, err)
		}
		c.Devices = append(c.Devices, d)
	}
	return &c, nil
}

func (s *ScyllaStore) GetByDevice(ctx context.Context, deviceID string) (*Code, error) {
	var code string
	err := s.session.Query(fmt.Sprintf(
		`SELECT code FROM %s.activation_devices WHERE device_id=?`, s.keyspace),
		deviceID).WithContext(ctx).Scan(&code)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetByCode(ctx, code)
}

func (s *ScyllaStore) Insert(ctx context.Context, c *Code) (bool, error) {
	var expiresAt time.Time
	if c.ExpiresAt != nil {
		expiresAt = *c.ExpiresAt
	}
	applied, err := s.session.Query(fmt.Sprintf(
		`INSERT INTO %s.activation_codes (code,is_active,max_devices,device_count,devices,expires_at,notes,created_at)
		 VALUES (?,?,?,0,[],?,?,?) IF NOT EXISTS`, s.keyspace),
		c.Code, c.IsActive, c.MaxDevices, expiresAt, c.Notes, c.CreatedAt).
		WithContext(ctx).ScanCAS()
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *ScyllaStore) AppendDevice(ctx context.Context, code string, d Device, expectedCount int) (bool, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return false, err
	}
	applied, err := s.session.Query(fmt.Sprintf(
		`UPDATE %s.activation_codes SET devices = devices + ?, device_count = ? WHERE code = ? IF device_count = ?`, s.keyspace),
		[]string{string(raw)}, expectedCount+1, code, expectedCount).
		WithContext(ctx).ScanCAS()
	if err != nil {
		return false, err
	}
	if applied {
		err = s.session.Query(fmt.Sprintf(
			`INSERT INTO %s.activation_devices (device_id, code) VALUES (?,?)`, s.keyspace),
			d.DeviceID, code).WithContext(ctx).Exec()
		if err != nil {
			return true, fmt.Errorf("device index write: %w", err)
		}
	}
	return applied, nil
}

func (s *ScyllaStore) Update(ctx context.Context, code string, u Update) error {
	set := ""
	var args []interface{}
	add := func(clause string, v interface{}) {
		if set != "" {
			set += ", "
		}
		set += clause
		args = append(args, v)
	}
	if u.IsActive != nil {
		add("is_active=?", *u.IsActive)
	}
	if u.MaxDevices != nil {
		add("max_devices=?", *u.MaxDevices)
	}
	if u.ClearExpiry {
		add("expires_at=?", time.Time{})
	} else if u.ExpiresAt != nil {
		add("expires_at=?", *u.ExpiresAt)
	}
	if u.Notes != nil {
		add("notes=?", *u.Notes)
	}
	if set == "" {
		return nil
	}
	args = append(args, code)
	return s.session.Query(fmt.Sprintf(
		`UPDATE %s.activation_codes SET %s WHERE code=?`, s.keyspace, set), args...).
		WithContext(ctx).Exec()
}

func (s *ScyllaStore) Delete(ctx context.Context, code string) error {
	c, err := s.GetByCode(ctx, code)
	if err != nil {
		return err
	}
	for _, d := range c.Devices {
		if err := s.session.Query(fmt.Sprintf(
			`DELETE FROM %s.activation_devices WHERE device_id=?`, s.keyspace),
			d.DeviceID).WithContext(ctx).Exec(); err != nil {
			return err
		}
	}
	return s.session.Query(fmt.Sprintf(
		`DELETE FROM %s.activation_codes WHERE code=?`, s.keyspace), code).
		WithContext(ctx).Exec()
}

func (s *ScyllaStore) List(ctx context.Context) ([]Code, error) {
	iter := s.session.Query(fmt.Sprintf(
		`SELECT code,is_active,max_devices,devices,expires_at,notes,created_at FROM %s.activation_codes`, s.keyspace)).
		WithContext(ctx).Iter()

	var codes []Code
	for {
		var (
			c         Code
			rawDevs   []string
			expiresAt time.Time
		)
		if !iter.Scan(&c.Code, &c.IsActive, &c.MaxDevices, &rawDevs, &expiresAt, &c.Notes, &c.CreatedAt) {
			break
		}
		if !expiresAt.IsZero() {
			c.ExpiresAt = &expiresAt
		}
		for _, raw := range rawDevs {
			var d Device
			if err := json.Unmarshal([]byte(raw), &d); err != nil {
				continue
			}
			c.Devices = append(c.Devices, d)
		}
		codes = append(codes, c)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i].CreatedAt.After(codes[j].CreatedAt) })
	return codes, nil
}
