// ABOUTME: Package filter models which nodes a request targets.
// ABOUTME: Includes the compound expression scanner, parser and evaluator.

// Package filter describes the set of nodes an RPC request is aimed at and
// decides whether a given node belongs to that set.
//
// # Overview
//
// A [Filter] has five categories: identity, fact, class, agent and
// compound. A node matches when every non-empty category matches. Within
// identity, fact and class at least one entry must match; every agent entry
// must be advertised by the node; every compound expression must evaluate
// to true.
//
// Identity, class and agent entries are literal strings or /regex/ patterns.
// Fact entries are parsed from strings such as "os=linux",
// "memory>=4096" or "kernel=/^5\./" by [ParseFact].
//
// # Compound expressions
//
// Compound expressions combine fact, class and function statements with
// and, or, not (or !) and parentheses:
//
//	(os=linux or os=freebsd) and not /webserver/ and uptime('days').value>30
//
// [Scanner] splits a source string into [Token] values, [Parse] builds an
// [Expression] tree from them and [Expression.Eval] walks the tree against
// a [Node]. Malformed input produces a [*SyntaxError] naming the offending
// character range; it matches [ErrInvalidExpression] with errors.Is.
package filter
