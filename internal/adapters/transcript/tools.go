package transcript

import (
	"context"
	"time"

	"github.com/MrWong99/toolweave/internal/adapters"
	"github.com/MrWong99/toolweave/internal/tool"
	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

// Registry names of the transcript tools.
const (
	ListToolName     = "list_transcripts"
	GetToolName      = "get_transcript"
	SearchToolName   = "search_transcript"
	MentionsToolName = "summarize_mentions"
)

const toolTimeout = 5 * time.Second

type fileArgs struct {
	Filename string `json:"filename"`
}

type keywordArgs struct {
	Keyword  string `json:"keyword"`
	Filename string `json:"filename"`
}

// Tools returns the four transcript tools bound to s.
func (s *Store) Tools() []tool.Tool {
	filenameProp := adapters.Prop("string", "Transcript filename, e.g. \"standup.json\". Omit to search all transcripts.")
	keywordProp := adapters.Prop("string", "Word or name to look for.")

	return []tool.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        ListToolName,
				Description: "List the available meeting transcripts.",
				Parameters:  adapters.Schema(nil),
			},
			Handler: func(ctx context.Context, _ map[string]any) (any, error) {
				return s.List(ctx)
			},
			SideEffect: tool.SideEffectRead,
			Timeout:    toolTimeout,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        GetToolName,
				Description: "Fetch the full text of one meeting transcript.",
				Parameters: adapters.Schema(map[string]any{
					"filename": adapters.Prop("string", "Transcript filename, e.g. \"standup.json\"."),
				}, "filename"),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				var a fileArgs
				if err := adapters.Decode(args, &a); err != nil {
					return nil, err
				}
				return s.Get(ctx, a.Filename)
			},
			SideEffect: tool.SideEffectRead,
			Timeout:    toolTimeout,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        SearchToolName,
				Description: "Find the sentences of a transcript that contain a word or name.",
				Parameters: adapters.Schema(map[string]any{
					"keyword":  keywordProp,
					"filename": filenameProp,
				}, "keyword"),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				var a keywordArgs
				if err := adapters.Decode(args, &a); err != nil {
					return nil, err
				}
				return s.Search(ctx, a.Keyword, a.Filename)
			},
			SideEffect: tool.SideEffectRead,
			Timeout:    toolTimeout,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        MentionsToolName,
				Description: "Collect every mention of a person or topic in the transcripts, including misheard spellings, for summarizing.",
				Parameters: adapters.Schema(map[string]any{
					"keyword":  keywordProp,
					"filename": filenameProp,
				}, "keyword"),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				var a keywordArgs
				if err := adapters.Decode(args, &a); err != nil {
					return nil, err
				}
				return s.Mentions(ctx, a.Keyword, a.Filename)
			},
			SideEffect: tool.SideEffectRead,
			Timeout:    toolTimeout,
		},
	}
}
