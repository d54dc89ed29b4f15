package safety

import "regexp"

// safeCommands is the allow-list of leading tokens considered read-only:
// file inspection, search, and runtime/tool version queries. Anything not on
// this list requires approval even before the dangerous patterns are checked.
var safeCommands = map[string]bool{
	// File inspection
	"ls": true, "cat": true, "head": true, "tail": true, "wc": true,
	"file": true, "stat": true, "du": true, "df": true, "tree": true,
	"basename": true, "dirname": true, "realpath": true, "readlink": true,
	"pwd": true, "nl": true, "od": true, "hexdump": true, "strings": true,
	"diff": true, "cmp": true, "md5sum": true, "shasum": true, "sha256sum": true,

	// Search and text processing (read-only forms; sed -i and friends are
	// demoted by the dangerous patterns)
	"grep": true, "egrep": true, "fgrep": true, "rg": true, "ag": true,
	"find": true, "fd": true, "sort": true, "uniq": true, "cut": true,
	"tr": true, "column": true, "jq": true, "yq": true, "awk": true,
	"sed": true, "xxd": true,

	// Environment and system inspection
	"echo": true, "printf": true, "env": true, "printenv": true,
	"uname": true, "whoami": true, "id": true, "date": true, "uptime": true,
	"which": true, "whereis": true, "type": true, "ps": true,

	// Version control and runtimes (mutating subcommands are demoted by
	// the dangerous patterns). Interactive tools (top) and arbitrary-package
	// runners (npx) are deliberately absent.
	"git": true, "go": true, "node": true, "python": true, "python3": true,
	"ruby": true, "java": true, "rustc": true, "cargo": true, "npm": true,
	"pip": true, "pip3": true, "deno": true, "dotnet": true,
}

// dangerousPatterns demote a segment to requires-approval regardless of the
// leading token. Matching is deliberately loose: an argument that merely
// mentions one of these utilities also triggers a prompt.
var dangerousPatterns = []*regexp.Regexp{
	// File-mutating utilities
	regexp.MustCompile(`(^|\s)(rm|mv|cp|mkdir|rmdir|chmod|chown|chgrp|ln|touch|truncate|shred|install)(\s|$)`),

	// Privilege escalation
	regexp.MustCompile(`(^|\s)(sudo|su|doas)(\s|$)`),

	// Package managers and their mutating subcommands
	regexp.MustCompile(`(^|\s)(apt|apt-get|yum|dnf|pacman|apk|brew|pip|pip3|gem|npm|pnpm|yarn|cargo|go)\s+(install|uninstall|remove|purge|add|upgrade|update|get)(\s|$)`),

	// Service and system controls
	regexp.MustCompile(`(^|\s)(systemctl|service|launchctl|shutdown|reboot|halt|kill|killall|pkill)(\s|$)`),

	// In-place editors
	regexp.MustCompile(`(^|\s)sed\s+(-[a-zA-Z]+\s+)*-i`),
	regexp.MustCompile(`(^|\s)perl\s+\S*\s*-[a-zA-Z]*[pi]\S*e`),

	// Shell interpreters and inline evaluators
	regexp.MustCompile(`(^|\s)(bash|sh|zsh|fish|dash|ksh)(\s|$)`),
	regexp.MustCompile(`(^|\s)(python|python3|node|ruby|perl|deno)\s+(-[a-zA-Z]*\s+)*-{1,2}(c|e|eval)(\s|$)`),
	regexp.MustCompile(`(^|\s)(eval|exec|source)(\s|$)`),
	regexp.MustCompile(`^\.\s`),

	// I/O redirection, tee and dd (pipes are handled by segmentation)
	regexp.MustCompile(`[<>]`),
	regexp.MustCompile(`(^|\s)(tee|dd)(\s|$)`),

	// Destructive git subcommands
	regexp.MustCompile(`(^|\s)git\s+(push|pull|fetch|commit|reset|checkout|switch|restore|merge|rebase|clean|stash|cherry-pick|revert|am|apply|rm|mv|gc|prune|filter-branch|config|remote\s+(add|remove|rm|set-url|rename)|branch\s+(-d|-D|--delete|-m|-M)|tag\s+(-d|--delete))(\s|$)`),
}

// safeFetchRe is the whole-segment whitelist for curl and wget: only
// harmless flags plus http(s) URLs. POST-like flags (-d, -X, -F, -T,
// --data…), output flags (-o, -O, --output…) and anything else fail the
// match and require approval.
var safeFetchRe = regexp.MustCompile(
	`^(curl|wget)(\s+(-[sSLfIvq]+|--silent|--location|--fail|--head|--verbose|--compressed|--spider|--no-check-certificate|-m\s*\d+|--max-time[= ]\d+|--timeout[= ]\d+|--connect-timeout[= ]\d+|-H\s+("[^"]*"|'[^']*'|\S+)|--header[= ]("[^"]*"|'[^']*'|\S+)|--user-agent[= ]("[^"]*"|'[^']*'|\S+)))*\s+("https?://[^"]*"|'https?://[^']*'|https?://\S+)\s*$`)
