// Package credentials obtains working connection strings for the source and
// destination databases, prompting the operator when the configured ones
// are missing or rejected.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/joho/godotenv"

	"github.com/johndauphine/pg-mssql-migrate/internal/driver"
	"github.com/johndauphine/pg-mssql-migrate/internal/logging"
)

// State is where a Session is in obtaining a connection.
type State int

const (
	Disconnected State = iota
	PromptingCredentials
	Validated
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case PromptingCredentials:
		return "PromptingCredentials"
	case Validated:
		return "Validated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Side names which end of the migration a session connects.
type Side string

const (
	Source      Side = "source"
	Destination Side = "destination"
)

// DefaultMaxAttempts bounds how many connection strings a session tries.
const DefaultMaxAttempts = 3

// ErrNoCredentials is returned when no connection string works and no
// prompter is available to ask for another.
var ErrNoCredentials = errors.New("no usable connection string")

// ErrPromptCancelled is returned by prompters when the operator gives up.
var ErrPromptCancelled = errors.New("credential prompt cancelled")

// Opener connects with a connection string, verifying it works.
type Opener func(ctx context.Context, dsn string) (*driver.Conn, error)

// Request describes what a prompter is asked for.
type Request struct {
	Side      Side
	Engine    string // "PostgreSQL" or "SQL Server"
	EnvVar    string // variable the answer is saved under
	Attempt   int    // 1-based
	LastError error  // why the previous string was rejected, nil on first ask
}

// Prompter asks the operator for a connection string.
type Prompter interface {
	Prompt(ctx context.Context, req Request) (string, error)
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Engine      string
	EnvVar      string
	Open        Opener
	Prompter    Prompter // nil disables prompting
	EnvFile     string   // accepted prompted strings are saved here; empty disables
	MaxAttempts int
}

// Session drives one side from Disconnected to Validated.
type Session struct {
	side Side
	opts SessionOptions

	mu    sync.Mutex
	state State
	dsn   string
	conn  *driver.Conn
}

// NewSession creates a session that first tries dsn, which may be empty.
func NewSession(side Side, dsn string, opts SessionOptions) *Session {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	return &Session{side: side, opts: opts, dsn: dsn}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Connect returns a verified connection, prompting for a new connection
// string whenever the current one is missing or fails. A validated
// session returns the same connection on later calls.
func (s *Session) Connect(ctx context.Context) (*driver.Conn, error) {
	s.mu.Lock()
	if s.state == Validated {
		conn := s.conn
		s.mu.Unlock()
		return conn, nil
	}
	dsn := s.dsn
	s.mu.Unlock()

	var lastErr error
	prompted := false
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if dsn == "" {
			if s.opts.Prompter == nil {
				break
			}
			s.setState(PromptingCredentials)
			answer, err := s.opts.Prompter.Prompt(ctx, Request{
				Side:      s.side,
				Engine:    s.opts.Engine,
				EnvVar:    s.opts.EnvVar,
				Attempt:   attempt,
				LastError: lastErr,
			})
			if err != nil {
				s.setState(Disconnected)
				return nil, fmt.Errorf("%s connection: %w", s.side, err)
			}
			dsn = answer
			prompted = true
			if dsn == "" {
				continue
			}
		}

		conn, err := s.opts.Open(ctx, dsn)
		if err == nil {
			s.mu.Lock()
			s.state = Validated
			s.dsn = dsn
			s.conn = conn
			s.mu.Unlock()
			if prompted {
				s.persist(dsn)
			}
			return conn, nil
		}
		if ctx.Err() != nil {
			s.setState(Disconnected)
			return nil, fmt.Errorf("%s connection: %w", s.side, ctx.Err())
		}

		logging.Warn("%s connection failed: %v", s.opts.Engine, err)
		lastErr = err
		dsn = ""
	}

	s.setState(Disconnected)
	if lastErr != nil {
		return nil, fmt.Errorf("%s connection: %w: %w", s.side, ErrNoCredentials, lastErr)
	}
	return nil, fmt.Errorf("%s connection: %w (set %s)", s.side, ErrNoCredentials, s.opts.EnvVar)
}

// persist exports an accepted prompted string to the process environment
// and, when configured, the .env file so later runs skip the prompt.
func (s *Session) persist(dsn string) {
	if s.opts.EnvVar == "" {
		return
	}
	os.Setenv(s.opts.EnvVar, dsn)
	if s.opts.EnvFile == "" {
		return
	}
	if err := SaveEnv(s.opts.EnvFile, s.opts.EnvVar, dsn); err != nil {
		logging.Warn("Could not save %s to %s: %v", s.opts.EnvVar, s.opts.EnvFile, err)
		return
	}
	logging.Info("Saved %s to %s", s.opts.EnvVar, s.opts.EnvFile)
}

// SaveEnv sets key in the .env file at path, keeping its other entries.
func SaveEnv(path, key, value string) error {
	env := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		existing, err := godotenv.Read(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		env = existing
	}
	env[key] = value
	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return os.Chmod(path, 0600)
}
