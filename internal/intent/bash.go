package intent

import "regexp"

// lexiconRule maps a shell-command pattern to the intents it implies.
// Detection is substring-level and best-effort: a compound command like
// "git add . && git commit && git push" matches several rules, and all
// of their intents are emitted.
type lexiconRule struct {
	re      *regexp.Regexp
	intents []Intent
}

var lexicon = []lexiconRule{
	{regexp.MustCompile(`\bgit\s+commit\b`), []Intent{IntentCommit}},
	{regexp.MustCompile(`\bgit\s+push\b`), []Intent{IntentPush}},
	{regexp.MustCompile(`\bgit\s+push\b[^|;&]*--delete\b`), []Intent{IntentDelete}},
	{regexp.MustCompile(`\bgit\s+branch\s+(-D|--delete)\b`), []Intent{IntentDelete}},
	{regexp.MustCompile(`\brm\s+-[a-zA-Z]*r[a-zA-Z]*\b`), []Intent{IntentDelete}},
	{regexp.MustCompile(`\bnpm\s+publish\b`), []Intent{IntentDeploy}},
	{regexp.MustCompile(`\bcargo\s+publish\b`), []Intent{IntentDeploy}},
	{regexp.MustCompile(`\bgem\s+push\b`), []Intent{IntentDeploy}},
	{regexp.MustCompile(`\btwine\s+upload\b`), []Intent{IntentDeploy}},
	{regexp.MustCompile(`\bgoreleaser\b`), []Intent{IntentDeploy}},
	{regexp.MustCompile(`\bdeploy\b`), []Intent{IntentDeploy}},
	{regexp.MustCompile(`>{1,2}`), []Intent{IntentWrite}},
	{regexp.MustCompile(`\|\s*tee\b`), []Intent{IntentWrite}},
	{regexp.MustCompile(`\bmkdir\b`), []Intent{IntentWrite}},
	{regexp.MustCompile(`\btouch\b`), []Intent{IntentWrite}},
}

// commandIntents scans a shell command against the lexicon. The caller
// canonicalises (sorts, dedupes) the combined result.
func commandIntents(command string) []Intent {
	if command == "" {
		return nil
	}
	var out []Intent
	for _, rule := range lexicon {
		if rule.re.MatchString(command) {
			out = append(out, rule.intents...)
		}
	}
	return out
}
