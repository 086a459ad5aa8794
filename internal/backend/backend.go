// Package backend describes the remote services the dashboard core consumes:
// authentication, table data and the realtime change channel. The core only
// ever talks to these interfaces; client (HTTP) and demodata (in-memory)
// provide implementations.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	TableProducts      = "products"
	TableMachines      = "machines"
	TableEmployees     = "employees"
	TableMaterials     = "materials"
	TableProductions   = "productions"
	TableQualityChecks = "quality_checks"
)

// Tables is the allow-list of tables exposed through the data service.
var Tables = []string{
	TableProducts,
	TableMachines,
	TableEmployees,
	TableMaterials,
	TableProductions,
	TableQualityChecks,
}

func ValidTable(table string) bool {
	for _, t := range Tables {
		if t == table {
			return true
		}
	}
	return false
}

var (
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrAlreadyRegistered  = errors.New("user already registered")
	ErrNotFound           = errors.New("not found")
	ErrUnknownTable       = errors.New("unknown table")
)

// Error is a failure reported by a remote service. Message is meant for
// humans and is surfaced verbatim in notices.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidCredentials:
		return e.Code == "INVALID_CREDENTIALS"
	case ErrAlreadyRegistered:
		return e.Code == "EMAIL_EXISTS"
	case ErrNotFound:
		return e.Code == "NOT_FOUND"
	case ErrUnknownTable:
		return e.Code == "UNKNOWN_TABLE"
	}
	return false
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Profile is free-form sign-up metadata (display name, company, role hint).
type Profile map[string]string

type AuthSession struct {
	UserID       string    `json:"userId" yaml:"user_id"`
	Email        string    `json:"email" yaml:"email"`
	DisplayName  string    `json:"displayName" yaml:"display_name"`
	AccessToken  string    `json:"accessToken" yaml:"access_token"`
	RefreshToken string    `json:"refreshToken" yaml:"refresh_token"`
	ExpiresAt    time.Time `json:"expiresAt" yaml:"expires_at"`
}

type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

type Auth interface {
	SignIn(ctx context.Context, creds Credentials) (*AuthSession, error)
	SignUp(ctx context.Context, creds Credentials, profile Profile) error
	SignOut(ctx context.Context) error
	// CurrentSession returns nil, nil when nobody is signed in.
	CurrentSession(ctx context.Context) (*AuthSession, error)
	OnAuthStateChange(fn func(AuthEvent, *AuthSession)) (unsubscribe func())
}

type Data interface {
	Read(ctx context.Context, table string, q Query) ([]Record, error)
	Count(ctx context.Context, table string, q Query) (int, error)
	Insert(ctx context.Context, table string, rec Record) (Record, error)
	Update(ctx context.Context, table, id string, fields Record) (Record, error)
	Delete(ctx context.Context, table, id string) error
}

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

type ChangeEvent struct {
	Table string    `json:"table"`
	Op    Op        `json:"op"`
	ID    string    `json:"id,omitempty"`
	At    time.Time `json:"at"`
}

type Handle string

// Realtime delivers row change events for a table. Callbacks for one handle
// never run concurrently with each other.
type Realtime interface {
	Subscribe(table string, fn func(ChangeEvent)) (Handle, error)
	Unsubscribe(h Handle)
}

type Record map[string]any

// ID renders the record's primary key as a string.
func (r Record) ID() string {
	v, ok := r["id"]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Float reads a numeric column; numbers encoded as strings are parsed.
func (r Record) Float(key string) float64 {
	f, _ := toFloat(r[key])
	return f
}

func (r Record) Int(key string) int {
	return int(r.Float(key))
}
