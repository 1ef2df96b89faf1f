package agent

import (
	"context"
	"fmt"
	"strings"
)

const offlineMarker = "(mock)"

// OfflineProvider answers without a model. Its output is deterministic and
// always starts with "(mock)" so degraded mode is easy to spot.
type OfflineProvider struct{}

func NewOfflineProvider() *OfflineProvider {
	return &OfflineProvider{}
}

func (p *OfflineProvider) Name() string { return ProviderOffline }

func (p *OfflineProvider) DisplayName() string { return "Offline" }

func (p *OfflineProvider) Generate(ctx context.Context, request GenerateRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	label := request.Label
	if label == "" {
		label = "General"
	}

	return fmt.Sprintf("%s %s advice for: %s\nBased on memories: %s", offlineMarker, label, request.Query, quoteList(request.Memories)), nil
}

// quoteList renders entries as ["a", "b"] so entries containing spaces stay distinct.
func quoteList(entries []string) string {
	quoted := make([]string, len(entries))
	for i, e := range entries {
		quoted[i] = fmt.Sprintf("%q", e)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
