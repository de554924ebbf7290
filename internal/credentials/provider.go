package credentials

import (
	"context"

	"github.com/johndauphine/pg-mssql-migrate/internal/config"
	"github.com/johndauphine/pg-mssql-migrate/internal/driver"
)

// Provider hands the orchestrator its two connections, one Session each.
type Provider struct {
	source *Session
	dest   *Session
}

// ProviderOptions configures NewProvider.
type ProviderOptions struct {
	Prompter    Prompter
	EnvFile     string
	MaxAttempts int

	// OpenSource and OpenDestination override the registered engine drivers.
	OpenSource      Opener
	OpenDestination Opener
}

// NewProvider builds sessions from cfg. Configured connection details are
// tried first; the prompter is consulted only when they are absent or fail.
func NewProvider(cfg *config.Config, opts ProviderOptions) *Provider {
	maxConns := cfg.Migration.MaxConnections

	openSource := opts.OpenSource
	if openSource == nil {
		openSource = engineOpener(driver.Postgres, maxConns)
	}
	openDest := opts.OpenDestination
	if openDest == nil {
		openDest = engineOpener(driver.MSSQL, maxConns)
	}

	var sourceDSN, destDSN string
	if cfg.SourceConfigured() {
		sourceDSN = cfg.SourceDSN()
	}
	if cfg.TargetConfigured() {
		destDSN = cfg.TargetDSN()
	}

	return &Provider{
		source: NewSession(Source, sourceDSN, SessionOptions{
			Engine:      "PostgreSQL",
			EnvVar:      config.SourceDSNEnv,
			Open:        openSource,
			Prompter:    opts.Prompter,
			EnvFile:     opts.EnvFile,
			MaxAttempts: opts.MaxAttempts,
		}),
		dest: NewSession(Destination, destDSN, SessionOptions{
			Engine:      "SQL Server",
			EnvVar:      config.TargetDSNEnv,
			Open:        openDest,
			Prompter:    opts.Prompter,
			EnvFile:     opts.EnvFile,
			MaxAttempts: opts.MaxAttempts,
		}),
	}
}

// OpenSource returns the validated PostgreSQL connection.
func (p *Provider) OpenSource(ctx context.Context) (*driver.Conn, error) {
	return p.source.Connect(ctx)
}

// OpenDestination returns the validated SQL Server connection.
func (p *Provider) OpenDestination(ctx context.Context) (*driver.Conn, error) {
	return p.dest.Connect(ctx)
}

// Source exposes the source session, mainly for its State.
func (p *Provider) Source() *Session { return p.source }

// Destination exposes the destination session.
func (p *Provider) Destination() *Session { return p.dest }

func engineOpener(name string, maxConns int) Opener {
	return func(ctx context.Context, dsn string) (*driver.Conn, error) {
		d, err := driver.Get(name)
		if err != nil {
			return nil, err
		}
		return d.Open(ctx, dsn, maxConns)
	}
}
