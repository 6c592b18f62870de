package github

import (
	"go.uber.org/fx"

	"github.com/relaydev/syncd/domain/extraction"
)

var Module = fx.Module("github",
	fx.Provide(
		NewClient,
		NewExtractor,
	),
	fx.Invoke(func(r *extraction.Registry, e *Extractor) {
		r.Register(e)
	}),
)
