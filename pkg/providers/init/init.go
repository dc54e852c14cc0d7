// Package providerinit registers all built-in provider transformers.
// Import it for its side effects.
package providerinit

import (
	_ "ccrouter/pkg/providers/adaptor/gemini"
	_ "ccrouter/pkg/providers/adaptor/openai"
)
