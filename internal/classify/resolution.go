package classify

import (
	"strings"

	"github.com/jonathan/support-triage/internal/types"
)

// resolutionPatterns maps each signal to the lowercase phrases that indicate it.
// Within a message, groups are checked in order and the first match wins.
var resolutionPatterns = []struct {
	signal  types.ResolutionSignal
	phrases []string
}{
	{types.ResolutionFixed, []string{
		"has been fixed", "we fixed", "deployed a fix", "this is now resolved",
		"should be working now", "issue is resolved", "rolled out a fix",
	}},
	{types.ResolutionEscalated, []string{
		"escalated", "passed this to our engineering", "filed a ticket",
		"raised this with the team", "forwarded to engineering",
	}},
	{types.ResolutionWorkaround, []string{
		"workaround", "as a temporary measure", "in the meantime you can",
		"until we ship", "temporary solution",
	}},
	{types.ResolutionDeclined, []string{
		"not planned", "won't be able to", "we are unable to", "not something we support",
		"declined", "no plans to",
	}},
}

// DetectResolution derives a resolution signal from the support-side messages
// of a conversation using lightweight pattern matching. Later messages take
// precedence over earlier ones: the signal of the last matching message wins.
func DetectResolution(messages []types.Message) types.ResolutionSignal {
	signal := types.ResolutionUnknown
	for _, m := range messages {
		if !m.FromSupport {
			continue
		}
		if s := matchSignal(strings.ToLower(m.Body)); s != types.ResolutionUnknown {
			signal = s
		}
	}
	return signal
}

func matchSignal(body string) types.ResolutionSignal {
	for _, rp := range resolutionPatterns {
		for _, phrase := range rp.phrases {
			if strings.Contains(body, phrase) {
				return rp.signal
			}
		}
	}
	return types.ResolutionUnknown
}
