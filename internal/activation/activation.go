package activation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrNotFound           = errors.New("activation: code not found")
	ErrDeactivated        = errors.New("activation: code deactivated")
	ErrExpired            = errors.New("activation: code expired")
	ErrDeviceLimitReached = errors.New("activation: device limit reached")
	ErrCodeCollision      = errors.New("activation: code already exists")
)

// Device is one activated device bound to a code. Entries are append-only;
// normal operation never removes them.
type Device struct {
	DeviceID    string    `json:"deviceId"`
	DeviceName  string    `json:"deviceName"`
	ActivatedAt time.Time `json:"activatedAt"`
}

// Code is a shared activation code with its bound devices.
type Code struct {
	Code       string     `json:"code"`
	IsActive   bool       `json:"isActive"`
	MaxDevices int        `json:"maxDevices"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	Notes      string     `json:"notes"`
	Devices    []Device   `json:"activatedDevices"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func (c *Code) device(deviceID string) *Device {
	for i := range c.Devices {
		if c.Devices[i].DeviceID == deviceID {
			return &c.Devices[i]
		}
	}
	return nil
}

func (c *Code) expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// Update carries admin-editable fields. Nil means leave unchanged; ExpiresAt
// uses ClearExpiry to distinguish "clear" from "keep".
type Update struct {
	IsActive    *bool
	MaxDevices  *int
	ExpiresAt   *time.Time
	ClearExpiry bool
	Notes       *string
}

// Store is the persistence boundary for activation codes. AppendDevice must
// be a conditional write: it appends only when the stored device count still
// equals expectedCount, and reports whether the write applied.
type Store interface {
	GetByCode(ctx context.Context, code string) (*Code, error)
	GetByDevice(ctx context.Context, deviceID string) (*Code, error)
	Insert(ctx context.Context, c *Code) (applied bool, err error)
	AppendDevice(ctx context.Context, code string, d Device, expectedCount int) (applied bool, err error)
	Update(ctx context.Context, code string, u Update) error
	Delete(ctx context.Context, code string) error
	List(ctx context.Context) ([]Code, error)
}

const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 8

	defaultDeviceName = "Unknown Device"

	// createAttempts bounds random-code collision retries;
	// appendAttempts bounds conditional-write contention retries.
	createAttempts = 10
	appendAttempts = 3
)

// GenerateCode returns a random code like "ABCD-2345" from an alphabet that
// excludes visually similar glyphs (no I/O/0/1).
func GenerateCode() (string, error) {
	raw, err := gonanoid.Generate(codeAlphabet, codeLength)
	if err != nil {
		return "", err
	}
	return raw[:4] + "-" + raw[4:], nil
}

// Canonicalize normalizes user-entered codes before lookup.
func Canonicalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// VerifyResult reports a successful device activation.
type VerifyResult struct {
	AlreadyActivated bool
	ActivatedAt      time.Time
	ExpiresAt        *time.Time
}

// Status reports whether a device is bound to any active code.
type Status struct {
	Activated bool
	Expired   bool
	ExpiresAt *time.Time
}

// Registry binds devices to shared activation codes.
type Registry struct {
	store Store
	now   func() time.Time
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// Verify activates deviceID against code. Re-activation of an already bound
// device always succeeds without a new entry, regardless of limits or expiry
// state transitions since. New activations require the code to be active,
// unexpired, and below its device limit; the append is a conditional write so
// concurrent verifications cannot overshoot maxDevices.
func (r *Registry) Verify(ctx context.Context, code, deviceID, deviceName string) (VerifyResult, error) {
	canonical := Canonicalize(code)
	if deviceName == "" {
		deviceName = defaultDeviceName
	}

	for attempt := 0; attempt < appendAttempts; attempt++ {
		c, err := r.store.GetByCode(ctx, canonical)
		if err != nil {
			return VerifyResult{}, err
		}

		if d := c.device(deviceID); d != nil {
			return VerifyResult{AlreadyActivated: true, ActivatedAt: d.ActivatedAt, ExpiresAt: c.ExpiresAt}, nil
		}
		if !c.IsActive {
			return VerifyResult{}, ErrDeactivated
		}
		if c.expired(r.now()) {
			return VerifyResult{}, ErrExpired
		}
		if len(c.Devices) >= c.MaxDevices {
			return VerifyResult{}, ErrDeviceLimitReached
		}

		d := Device{DeviceID: deviceID, DeviceName: deviceName, ActivatedAt: r.now()}
		applied, err := r.store.AppendDevice(ctx, canonical, d, len(c.Devices))
		if err != nil {
			return VerifyResult{}, err
		}
		if applied {
			return VerifyResult{ActivatedAt: d.ActivatedAt, ExpiresAt: c.ExpiresAt}, nil
		}
		// Lost the race; re-read and re-check limits.
	}
	return VerifyResult{}, ErrDeviceLimitReached
}

// Status looks up the code a device is bound to.
func (r *Registry) Status(ctx context.Context, deviceID string) (Status, error) {
	c, err := r.store.GetByDevice(ctx, deviceID)
	if errors.Is(err, ErrNotFound) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}
	if !c.IsActive {
		return Status{}, nil
	}
	if c.expired(r.now()) {
		return Status{Expired: true, ExpiresAt: c.ExpiresAt}, nil
	}
	return Status{Activated: true, ExpiresAt: c.ExpiresAt}, nil
}

// Create registers a new code. A supplied custom code is canonicalized and
// must not collide; otherwise a random code is generated with bounded
// collision retries.
func (r *Registry) Create(ctx context.Context, customCode string, maxDevices int, expiresAt *time.Time, notes string) (*Code, error) {
	if maxDevices <= 0 {
		maxDevices = 1
	}
	c := &Code{
		IsActive:   true,
		MaxDevices: maxDevices,
		ExpiresAt:  expiresAt,
		Notes:      notes,
		CreatedAt:  r.now(),
	}

	if custom := Canonicalize(customCode); custom != "" {
		c.Code = custom
		applied, err := r.store.Insert(ctx, c)
		if err != nil {
			return nil, err
		}
		if !applied {
			return nil, ErrCodeCollision
		}
		return c, nil
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		generated, err := GenerateCode()
		if err != nil {
			return nil, err
		}
		c.Code = generated
		applied, err := r.store.Insert(ctx, c)
		if err != nil {
			return nil, err
		}
		if applied {
			return c, nil
		}
	}
	return nil, fmt.Errorf("activation: could not generate a unique code after %d attempts", createAttempts)
}

// Get returns a code by its canonical form.
func (r *Registry) Get(ctx context.Context, code string) (*Code, error) {
	return r.store.GetByCode(ctx, Canonicalize(code))
}

// Update applies admin field edits. Deactivating a code leaves its device
// list intact; only raising MaxDevices reopens a full code.
func (r *Registry) Update(ctx context.Context, code string, u Update) (*Code, error) {
	canonical := Canonicalize(code)
	if _, err := r.store.GetByCode(ctx, canonical); err != nil {
		return nil, err
	}
	if err := r.store.Update(ctx, canonical, u); err != nil {
		return nil, err
	}
	return r.store.GetByCode(ctx, canonical)
}

// Delete removes a code entirely.
func (r *Registry) Delete(ctx context.Context, code string) error {
	return r.store.Delete(ctx, Canonicalize(code))
}

// List returns all codes, newest first.
func (r *Registry) List(ctx context.Context) ([]Code, error) {
	return r.store.List(ctx)
}
