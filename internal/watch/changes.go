package watch

import (
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/fakeyudi/testwatch/internal/index"
	"github.com/fakeyudi/testwatch/internal/project"
	"github.com/fakeyudi/testwatch/internal/search"
)

// handleChange rebuilds the context of root from batch and reruns, unless
// no event in the batch is relevant to that root.
func (c *Controller) handleChange(root int, batch index.Batch) {
	if c.quitting || root < 0 || root >= len(c.contexts) {
		return
	}
	current := c.contexts[root]

	relevant := 0
	for _, ev := range batch.Events {
		if project.IsValidPath(c.cfg, current.Root, ev.Path) {
			relevant++
		}
	}
	if relevant == 0 || batch.Snapshot == nil {
		return
	}

	next := project.Build(c.cfg, current.Root, batch.Snapshot)
	contexts := slices.Clone(c.contexts)
	contexts[root] = next
	bindings := slices.Clone(c.bindings)
	bindings[root] = search.Binding{Context: next, Source: search.New(next)}
	c.contexts, c.bindings = contexts, bindings
	c.pathPrompt.SetSearchSources(bindings)
	c.namePrompt.SetSearchSources(bindings)

	log.Debug().
		Str("root", current.Root.DisplayName()).
		Int("events", len(batch.Events)).
		Int("relevant", relevant).
		Msg("context rebuilt")

	if c.prompt.IsEntering() {
		c.prompt.Abort()
	}
	c.requestRun(nil)
}
