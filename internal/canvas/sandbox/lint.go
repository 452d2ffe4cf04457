package sandbox

import (
	"fmt"
	"regexp"
)

// ctxMembers is the full ctx surface agent code may reference. Anything
// else accessed as ctx.<name> earns a heuristic warning.
var ctxMembers = []string{
	"agentId", "agentName", "agentType", "balance",
	"incomingTransactions", "transactions", "state",
	"log", "warn", "error",
	"createTransaction", "transitionState", "releaseEscrow",
	"initiateDispute", "cancelTransaction", "services",
}

// txProperties are the fields of a transaction snapshot as agent code sees
// them (the JSON keys of TxView).
var txProperties = []string{
	"id", "sourceId", "targetId", "amountMicro", "service",
	"state", "createdAt", "updatedAt", "deliverableHash",
}

var (
	ctxAccessRe = regexp.MustCompile(`\bctx\.([A-Za-z_$][\w$]*)`)
	txAccessRe  = regexp.MustCompile(`\btx\.([A-Za-z_$][\w$]*)`)
)

// lintCode runs the soft static analysis pass: heuristic warnings about
// property accesses that look like typos. It never blocks execution; the
// warnings ride along in the run's log output.
func lintCode(code string) []string {
	var warnings []string
	seen := map[string]bool{}

	for _, m := range ctxAccessRe.FindAllStringSubmatch(code, -1) {
		name := m[1]
		if containsString(ctxMembers, name) || seen["ctx."+name] {
			continue
		}
		seen["ctx."+name] = true
		if suggestion, ok := nearest(name, ctxMembers); ok {
			warnings = append(warnings, fmt.Sprintf("'ctx.%s' is not defined. Did you mean '%s'?", name, suggestion))
		} else {
			warnings = append(warnings, fmt.Sprintf("'ctx.%s' is not defined", name))
		}
	}

	for _, m := range txAccessRe.FindAllStringSubmatch(code, -1) {
		name := m[1]
		if containsString(txProperties, name) || seen["tx."+name] {
			continue
		}
		seen["tx."+name] = true
		if suggestion, ok := nearest(name, txProperties); ok {
			warnings = append(warnings, fmt.Sprintf("Unknown transaction property 'tx.%s'. Did you mean '%s'?", name, suggestion))
		} else {
			warnings = append(warnings, fmt.Sprintf("Unknown transaction property 'tx.%s'", name))
		}
	}

	return warnings
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// nearest returns the candidate with the smallest edit distance from name,
// if that distance is within the typo threshold.
func nearest(name string, candidates []string) (string, bool) {
	const maxDistance = 3
	best, bestDist := "", maxDistance+1
	for _, c := range candidates {
		if d := editDistance(name, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	if bestDist > maxDistance {
		return "", false
	}
	return best, true
}

// editDistance is plain Levenshtein over two short identifier strings.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func minInt(nums ...int) int {
	m := nums[0]
	for _, n := range nums[1:] {
		if n < m {
			m = n
		}
	}
	return m
}
