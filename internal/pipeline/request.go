package pipeline

import (
	"database/sql"
	"time"
)

// Source is the transport a command arrived on.
type Source string

// Sources.
const (
	SourceAPI      Source = "api"
	SourceMQTT     Source = "mqtt"
	SourceKNX      Source = "knx"
	SourceInternal Source = "internal"
)

// OperationClass selects the transactional scope of a mutating command.
type OperationClass int

// Operation classes.
const (
	ClassUpdate OperationClass = iota
	ClassCreate
	ClassStart
	ClassStop
	ClassDestructive
	ClassCritical
	ClassBulk
)

var classNames = map[OperationClass]string{
	ClassUpdate:      "update",
	ClassCreate:      "create",
	ClassStart:       "start",
	ClassStop:        "stop",
	ClassDestructive: "destructive",
	ClassCritical:    "critical",
	ClassBulk:        "bulk",
}

func (c OperationClass) String() string {
	if n, ok := classNames[c]; ok {
		return n
	}
	return "update"
}

// Request is anything the pipeline dispatches.
type Request interface {
	// Operation names the request in logs, spans and metrics.
	Operation() string
}

// Command is a request that may change state.
type Command interface {
	Request
	Origin() Source
}

// Mutating commands run inside a transactional scope.
type Mutating interface {
	Command
	Class() OperationClass
}

// External commands change the outside world before their handler
// returns. A commit that fails after such a handler succeeded is logged
// and the command still succeeds.
type External interface {
	Mutating
	ActsExternally()
}

// Query is a read-only request.
type Query interface {
	Request
	ReadOnly()
}

// Cacheable queries are served read-through from the cache.
type Cacheable interface {
	Query
	// CacheKey identifies the parameters; the request type is added by
	// the pipeline.
	CacheKey() string
	CacheTTL() time.Duration
}

// Validator is implemented by requests that can check their own
// parameters.
type Validator interface {
	Validate() error
}

// TxOptions is the isolation and timeout of a transactional scope.
type TxOptions struct {
	Isolation sql.IsolationLevel
	Timeout   time.Duration
}
