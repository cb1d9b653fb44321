package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Result is the minimal interface needed from a neo4j result.
type Result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// Tx runs statements inside a managed write transaction.
type Tx interface {
	Run(ctx context.Context, cypher string, params map[string]any) error
}

// Session is the minimal interface needed from a neo4j session.
type Session interface {
	Run(ctx context.Context, cypher string, params map[string]any) (Result, error)
	ExecuteWrite(ctx context.Context, work func(tx Tx) error) error
	Close(ctx context.Context) error
}

// SessionOpener hands out sessions. Tests substitute a fake.
type SessionOpener interface {
	OpenSession(ctx context.Context) Session
}

type driverOpener struct {
	driver neo4j.DriverWithContext
}

func (o driverOpener) OpenSession(ctx context.Context) Session {
	return &sessionAdapter{sess: o.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

// sessionAdapter adapts neo4j.SessionWithContext to Session.
type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) ExecuteWrite(ctx context.Context, work func(tx Tx) error) error {
	_, err := a.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, work(txAdapter{tx: tx})
	})
	return err
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

type txAdapter struct {
	tx neo4j.ManagedTransaction
}

func (t txAdapter) Run(ctx context.Context, cypher string, params map[string]any) error {
	_, err := t.tx.Run(ctx, cypher, params)
	return err
}
