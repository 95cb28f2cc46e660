package ollama

import "strings"

// toolCapable records which model families handle Ollama's native tool API.
var toolCapable = map[string]bool{
	"qwen":      true,
	"llama3.1":  true,
	"llama3.2":  true,
	"llama3.3":  true,
	"mistral":   true,
	"command-r": true,
	"nemotron":  true,
	"granite3":  true,
	"gpt-oss":   true,

	"llama3-gradient": false,
	"llama3":          false,
	"phi":             false,
	"gemma":           false,
	"codellama":       false,
	"deepseek":        false,
}

// prefixOrder lists the keys of toolCapable with the most specific prefixes
// first, so "llama3.2" is matched before the generic "llama3".
var prefixOrder = []string{
	"llama3.3", "llama3.2", "llama3.1",
	"llama3-gradient",
	"command-r", "qwen", "mistral", "nemotron", "granite3", "gpt-oss",
	"codellama",
	"llama3",
	"deepseek", "phi", "gemma",
}

// SupportsTools reports whether model is known to support native tool calls.
// Unknown models are treated as unsupported and use the textual grammar.
func SupportsTools(model string) bool {
	name := strings.ToLower(model)
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	for _, prefix := range prefixOrder {
		if strings.HasPrefix(name, prefix) {
			return toolCapable[prefix]
		}
	}
	return false
}
