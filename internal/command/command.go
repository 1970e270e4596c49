// Package command defines the commands and queries SnapDog dispatches
// through the pipeline, and the handlers that execute them.
//
// Every protocol adapter (REST, MQTT, KNX) builds the same command values,
// usually via FromFeature, so a volume change behaves identically whatever
// transport it arrived on. Handlers apply the change to the owning zone or
// client, record it in the command journal, and raise exactly one
// notification per successful aggregate operation.
package command

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/metaneutrons/snapdog2-sub010/internal/apperr"
	"github.com/metaneutrons/snapdog2-sub010/internal/pipeline"
)

// Meta identifies one command instance and where it came from.
type Meta struct {
	ID     uuid.UUID       `json:"id"`
	Source pipeline.Source `json:"source"`
}

// NewMeta returns Meta with a fresh id.
func NewMeta(src pipeline.Source) Meta {
	return Meta{ID: uuid.New(), Source: src}
}

// Origin implements pipeline.Command.
func (m Meta) Origin() pipeline.Source { return m.Source }

// ActsExternally implements pipeline.External: every command drives the
// audio server before it returns.
func (Meta) ActsExternally() {}

// CommandID returns the id. It is uuid.Nil for commands built without
// NewMeta.
func (m Meta) CommandID() uuid.UUID { return m.ID }

// ZoneTarget addresses a zone.
type ZoneTarget struct {
	Zone int `json:"zone"`
}

// ZoneIndex returns the addressed zone.
func (t ZoneTarget) ZoneIndex() int { return t.Zone }

// Validate implements pipeline.Validator.
func (t ZoneTarget) Validate() error {
	var p problems
	p.index("zone", t.Zone)
	return p.err()
}

// ClientTarget addresses a client.
type ClientTarget struct {
	Client int `json:"client"`
}

// ClientIndex returns the addressed client.
func (t ClientTarget) ClientIndex() int { return t.Client }

// Validate implements pipeline.Validator.
func (t ClientTarget) Validate() error {
	var p problems
	p.index("client", t.Client)
	return p.err()
}

// problems collects parameter violations into one Validation error.
type problems []string

func (p *problems) add(failed bool, format string, args ...any) {
	if failed {
		*p = append(*p, fmt.Sprintf(format, args...))
	}
}

func (p *problems) index(what string, i int) {
	p.add(i < 1, "%s index must be positive, got %d", what, i)
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return apperr.Invalid("%s", strings.Join(p, "; "))
}
