package jira

import (
	"go.uber.org/fx"

	"github.com/relaydev/syncd/domain/extraction"
)

var Module = fx.Module("jira",
	fx.Provide(
		NewClient,
		NewExtractor,
	),
	fx.Invoke(func(r *extraction.Registry, e *Extractor) {
		r.Register(e)
	}),
)
